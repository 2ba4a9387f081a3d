package main

import (
	"context"
	"flag"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/VolantMQ/zbus/message"
	"github.com/VolantMQ/zbus/mq"
)

type benchResult struct {
	Topic      string  `json:"topic"`
	Messages   int     `json:"messages"`
	Failed     int64   `json:"failed"`
	Elapsed    string  `json:"elapsed"`
	Throughput float64 `json:"throughputPerSecond"`
}

func runBench(ctx context.Context, app *appContext, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	topic := fs.String("topic", app.config.Consumer.Topic, "topic to produce to")
	count := fs.Int("count", 10000, "messages to produce")
	size := fs.Int("size", 64, "body size in bytes")
	parallel := fs.Int("parallel", 4, "concurrent producers")
	timeout := fs.Duration("timeout", 10*time.Second, "timeout of each produce")
	quiet := fs.Bool("quiet", false, "disable progress bar")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(*topic) == 0 {
		return errMissingTopic
	}

	if *parallel <= 0 {
		*parallel = 1
	}

	body := strings.Repeat("x", *size)
	producer := mq.NewProducer(app.broker)

	var progress *mpb.Progress
	var bar *mpb.Bar

	if !*quiet {
		progress = mpb.New(mpb.WithWidth(64))
		bar = progress.AddBar(int64(*count),
			mpb.PrependDecorators(
				decor.Name("produce "+*topic, decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 6}),
			),
		)
	}

	jobs := make(chan struct{})
	var failed int64
	var wg sync.WaitGroup

	started := time.Now()

	for i := 0; i < *parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				m := message.New()
				m.SetTopic(*topic)
				m.SetBodyString(body)

				pctx, cancel := context.WithTimeout(ctx, *timeout)
				if _, err := producer.Produce(pctx, m); err != nil {
					atomic.AddInt64(&failed, 1)
				}
				cancel()

				if bar != nil {
					bar.Increment()
				}
			}
		}()
	}

	sent := 0
loop:
	for ; sent < *count; sent++ {
		select {
		case <-ctx.Done():
			break loop
		case jobs <- struct{}{}:
		}
	}

	close(jobs)
	wg.Wait()

	if progress != nil {
		if sent < *count {
			bar.SetTotal(int64(sent), true)
		}
		progress.Wait()
	}

	elapsed := time.Since(started)

	res := benchResult{
		Topic:    *topic,
		Messages: sent,
		Failed:   atomic.LoadInt64(&failed),
		Elapsed:  elapsed.String(),
	}

	if elapsed > 0 {
		res.Throughput = float64(sent) / elapsed.Seconds()
	}

	if err := printJSON(res); err != nil {
		return err
	}

	return printJSON(app.metrics.Snapshot())
}
