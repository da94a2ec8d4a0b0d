package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type streamStat struct {
	frames int64
	bytes  int64
	events int64
}

var (
	errorsTotal int64
	warnsTotal  int64
	streams     sync.Map // map[string]*streamStat keyed by exchange
)

func recordWarn(string) {
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(string) {
	atomic.AddInt64(&errorsTotal, 1)
}

// RecordFrame accounts one raw inbound frame for the given exchange.
func RecordFrame(exchange string, size int) {
	st := statFor(exchange)
	atomic.AddInt64(&st.frames, 1)
	atomic.AddInt64(&st.bytes, int64(size))
}

// RecordEvent accounts one normalised event yielded for the given exchange.
func RecordEvent(exchange string) {
	atomic.AddInt64(&statFor(exchange).events, 1)
}

func statFor(exchange string) *streamStat {
	v, _ := streams.LoadOrStore(exchange, &streamStat{})
	return v.(*streamStat)
}

// StartReport begins periodic logging of runtime and per-exchange stream
// statistics, publishing them to CloudWatch when the client is configured.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		exchange := k.(string)
		st := v.(*streamStat)
		streamData[exchange] = map[string]int64{
			"frames": atomic.LoadInt64(&st.frames),
			"bytes":  atomic.LoadInt64(&st.bytes),
			"events": atomic.LoadInt64(&st.events),
		}
		return true
	})

	fields := Fields{
		"errors":     atomic.LoadInt64(&errorsTotal),
		"warns":      atomic.LoadInt64(&warnsTotal),
		"goroutines": runtime.NumGoroutine(),
		"streams":    streamData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("Errors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsTotal)))},
		{MetricName: aws.String("Warns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsTotal)))},
		{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
	}

	for exchange, stats := range streamData {
		dims := []cwtypes.Dimension{{Name: aws.String("Exchange"), Value: aws.String(exchange)}}
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamFrames"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["frames"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["bytes"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamEvents"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["events"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
