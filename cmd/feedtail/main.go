// feedtail connects to a running serve instance and prints the trade feed.
// Usage: go run ./cmd/feedtail --url ws://localhost:8765/ [--verbose] [--symbol XBTUSD]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oerlikon/prep/internal/feed"
	"github.com/oerlikon/prep/internal/tradelog"
)

func main() {
	url := flag.String("url", "ws://localhost:8765/", "feed server URL")
	verbose := flag.Bool("verbose", false, "print every record")
	symbol := flag.String("symbol", "", "only print this symbol")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", "url", *url)

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	var messages, records atomic.Int64

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"messages", messages.Load(),
					"records", records.Load(),
				)
			}
		}
	}()

	p := printer{out: os.Stdout, verbose: *verbose, symbol: strings.ToUpper(*symbol)}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if ce, ok := err.(*websocket.CloseError); ok {
				logger.Info("server closed the feed", "code", ce.Code, "reason", ce.Text)
				break
			}
			logger.Error("read failed", "error", err)
			os.Exit(1)
		}

		blocks, err := feed.Decode(msg)
		if err != nil {
			logger.Warn("undecodable message", "error", err, "size", len(msg))
			continue
		}
		messages.Add(1)
		records.Add(int64(p.print(blocks)))
	}

	logger.Info("shutdown complete", "messages", messages.Load(), "records", records.Load())
}

type printer struct {
	out     io.Writer
	verbose bool
	symbol  string
}

// print writes one summary line per block, or every record when verbose,
// and returns the number of records received.
func (p printer) print(blocks []feed.Block) int {
	n := 0
	for _, b := range blocks {
		n += len(b.Trades)
		if p.symbol != "" && !strings.EqualFold(b.Symbol, p.symbol) {
			continue
		}
		if len(b.Trades) == 0 {
			fmt.Fprintf(p.out, "[BLOCK] symbol=%s records=0\n", b.Symbol)
			continue
		}
		if p.verbose {
			for _, t := range b.Trades {
				fmt.Fprintf(p.out, "[TRADE] symbol=%s %s", b.Symbol, tradelog.EncodeLine(t))
			}
			continue
		}
		first, last := b.Trades[0], b.Trades[len(b.Trades)-1]
		fmt.Fprintf(p.out, "[BLOCK] symbol=%s records=%d ids=%d..%d until=%s\n",
			b.Symbol, len(b.Trades), first.TradeID, last.TradeID, tradelog.FormatTime(last.Time))
	}
	return n
}
