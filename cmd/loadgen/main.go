package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/dustin/go-humanize"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

type option struct {
	ID string `json:"id"`
}

type status struct {
	Loading   bool              `json:"isLoading"`
	Error     string            `json:"error"`
	LayerID   string            `json:"layerId"`
	Features  int               `json:"features"`
	Selection map[string]string `json:"selection"`
}

func getJSON(ctx context.Context, c *http.Client, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("get %s: status %d: %s", u, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

func selectPair(ctx context.Context, c *http.Client, base, boundary, indicator string) (int, error) {
	q := url.Values{}
	q.Set("boundary", boundary)
	q.Set("indicator", indicator)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/selection?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post selection: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// countLoadEvents consumes the load event topic from its newest offset until ctx ends.
func countLoadEvents(ctx context.Context, brokers []string, topic string, n *atomic.Int64) (func(), error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("consumer create: %w", err)
	}
	parts, err := consumer.Partitions(topic)
	if err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	var wg sync.WaitGroup
	for _, p := range parts {
		pc, err := consumer.ConsumePartition(topic, p, sarama.OffsetNewest)
		if err != nil {
			_ = consumer.Close()
			return nil, fmt.Errorf("consume partition %d: %w", p, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = pc.Close() }()
			for {
				select {
				case <-pc.Messages():
					n.Add(1)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return func() {
		wg.Wait()
		_ = consumer.Close()
	}, nil
}

func main() {
	base := flag.String("addr", getenv("CHOROPLETH_URL", "http://localhost:8090"), "choropleth base url")
	total := flag.Int("n", 50, "number of selection changes")
	workers := flag.Int("c", 4, "concurrent clients")
	withKafka := flag.Bool("kafka", false, "count load events on Kafka")
	flag.Parse()
	*base = strings.TrimRight(*base, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	client := &http.Client{Timeout: 10 * time.Second}

	var boundaries, indicators []option
	if err := getJSON(ctx, client, *base+"/api/boundaries", &boundaries); err != nil {
		fmt.Println("catalog error:", err)
		os.Exit(1)
	}
	if err := getJSON(ctx, client, *base+"/api/indicators", &indicators); err != nil {
		fmt.Println("catalog error:", err)
		os.Exit(1)
	}
	if len(boundaries) == 0 || len(indicators) == 0 {
		fmt.Println("catalog error: empty boundary or indicator list")
		os.Exit(1)
	}

	var events atomic.Int64
	var stopKafka func()
	kctx, kcancel := context.WithCancel(ctx)
	if *withKafka {
		brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
		stop, err := countLoadEvents(kctx, brokers, getenv("KAFKA_TOPIC", "choropleth-loads"), &events)
		if err != nil {
			fmt.Println("Kafka error:", err)
		} else {
			stopKafka = stop
		}
	}

	start := time.Now()
	jobs := make(chan int)
	var accepted, failed atomic.Int64
	var wg sync.WaitGroup
	for range max(*workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				b := boundaries[rand.IntN(len(boundaries))].ID
				i := indicators[rand.IntN(len(indicators))].ID
				code, err := selectPair(ctx, client, *base, b, i)
				if err != nil || code != http.StatusAccepted {
					failed.Add(1)
					continue
				}
				accepted.Add(1)
			}
		}()
	}
	for j := range *total {
		jobs <- j
	}
	close(jobs)
	wg.Wait()

	// a final serial selection must be what ends up on the map
	wantB, wantI := boundaries[0].ID, indicators[len(indicators)-1].ID
	if _, err := selectPair(ctx, client, *base, wantB, wantI); err != nil {
		fmt.Println("final selection error:", err)
		os.Exit(1)
	}
	var st status
	for {
		if err := getJSON(ctx, client, *base+"/api/status", &st); err != nil {
			fmt.Println("status error:", err)
			os.Exit(1)
		}
		if !st.Loading {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	time.Sleep(time.Second)
	kcancel()
	if stopKafka != nil {
		stopKafka()
	}

	fmt.Printf("selections: %s accepted, %s failed in %s\n",
		humanize.Comma(accepted.Load()), humanize.Comma(failed.Load()), time.Since(start).Round(time.Millisecond))
	fmt.Printf("final layer %s: %d features, selection %s/%s\n",
		st.LayerID, st.Features, st.Selection["boundary"], st.Selection["indicator"])
	if *withKafka {
		fmt.Printf("load events consumed: %s\n", humanize.Comma(events.Load()))
	}
	if st.Selection["boundary"] != wantB || st.Selection["indicator"] != wantI || st.Error != "" {
		fmt.Printf("unexpected final state, want %s/%s (error=%q)\n", wantB, wantI, st.Error)
		os.Exit(1)
	}
}
