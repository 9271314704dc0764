// Command loadtest fires a configurable number of concurrent sync requests
// at a running echoserver and reports throughput and error count. Modeled
// on the teacher's cmd/pooling_test diagnostic harnesses: a small throwaway
// main that exercises the library under concurrency rather than a unit test.
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corewire/tcpmsg"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9100", "echoserver address")
	presharedKey := flag.String("key", "", "preshared key, if the server requires one")
	concurrency := flag.Int("concurrency", 50, "number of concurrent senders")
	perSender := flag.Int("per-sender", 20, "requests issued by each sender")
	flag.Parse()

	cli := tcpmsg.NewClient(*addr, tcpmsg.ClientConfig{
		Session: tcpmsg.SessionConfig{PresharedKey: *presharedKey},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cli.Connect(ctx); err != nil {
		fmt.Printf("connect failed: %v\n", err)
		return
	}
	defer cli.Disconnect(true)
	time.Sleep(100 * time.Millisecond) // let auth (if any) settle

	var ok, failed int64
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for n := 0; n < *perSender; n++ {
				payload := []byte(fmt.Sprintf("sender-%d-req-%d", id, n))
				_, _, err := cli.SendAndWait(2*time.Second, payload, nil)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&ok, 1)
			}
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	total := *concurrency * *perSender
	fmt.Printf("sent %d requests (%d ok, %d failed) in %s — %.0f req/s\n",
		total, ok, failed, elapsed, float64(total)/elapsed.Seconds())
}
