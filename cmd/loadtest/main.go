package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type loadMode string

const (
	modeBrowse   loadMode = "browse"
	modeCart     loadMode = "cart"
	modeCheckout loadMode = "checkout"
)

type config struct {
	baseURL      string
	total        int
	totalSet     bool
	duration     time.Duration
	concurrency  int
	timeout      time.Duration
	pollInterval time.Duration
	mode         loadMode
	productID    int64
	outputPath   string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "storefront HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m, 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.DurationVar(&cfg.pollInterval, "poll", 100*time.Millisecond, "checkout status poll interval")
	fs.StringVar(&modeValue, "mode", string(modeBrowse), "load mode: browse | cart | checkout")
	fs.Int64Var(&cfg.productID, "product", 1, "product id used by cart and checkout scenarios")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.pollInterval <= 0:
		return cfg, errors.New("poll must be > 0")
	case cfg.productID <= 0:
		return cfg, errors.New("product must be > 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.ToLower(strings.TrimSpace(value))) {
	case modeBrowse:
		return modeBrowse, nil
	case modeCart:
		return modeCart, nil
	case modeCheckout:
		return modeCheckout, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	result := runLoad(context.Background(), cfg)

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			log.WithError(err).Fatal("failed to write report")
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad раздаёт сценарии воркерам и собирает отчёт.
func runLoad(ctx context.Context, cfg config) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	client := newStorefrontClient(cfg.baseURL, cfg.timeout, col)

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runScenario(ctx, client, cfg, id, runID); err != nil {
					log.WithError(err).WithField("scenario", id).Debug("scenario failed")
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func runScenario(ctx context.Context, client *storefrontClient, cfg config, index int, runID string) (err error) {
	start := time.Now()
	defer func() {
		code := codeOK
		if err != nil {
			code = "FAILED"
		}
		client.col.record(scenarioMethod, time.Since(start), code)
	}()

	switch cfg.mode {
	case modeCart:
		return cartScenario(ctx, client, cfg.productID)
	case modeCheckout:
		return checkoutScenario(ctx, client, cfg, index, runID)
	default:
		return browseScenario(ctx, client, index)
	}
}

// browseScenario: поиск с сортировкой и открытие первой карточки.
func browseScenario(ctx context.Context, client *storefrontClient, index int) error {
	page, err := client.listProducts(ctx, searchTerms[index%len(searchTerms)], sortKeys[index%len(sortKeys)])
	if err != nil {
		return err
	}
	if len(page.Products) == 0 {
		return nil
	}
	return client.getProduct(ctx, page.Products[0].ID)
}

// cartScenario: добавление, изменение количества, чтение и удаление позиции.
func cartScenario(ctx context.Context, client *storefrontClient, productID int64) error {
	if _, err := client.addItem(ctx, productID, 1); err != nil {
		return err
	}
	if err := client.updateQuantity(ctx, productID, 2); err != nil {
		return err
	}
	if _, err := client.getCart(ctx); err != nil {
		return err
	}
	return client.removeItem(ctx, productID)
}

// checkoutScenario проходит оформление целиком и ждёт завершения платежа.
func checkoutScenario(ctx context.Context, client *storefrontClient, cfg config, index int, runID string) error {
	if _, err := client.addItem(ctx, cfg.productID, 1); err != nil {
		return err
	}
	session, err := client.beginCheckout(ctx)
	if err != nil {
		return err
	}
	if session.ID == "" {
		return errors.New("begin checkout returned empty session id")
	}
	if err := client.submitShipping(ctx, session.ID, loadShipping(index)); err != nil {
		return err
	}
	key := fmt.Sprintf("lt-pay-%s-%d", runID, index)
	if err := client.submitPayment(ctx, session.ID, key, loadPayment()); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 4*cfg.timeout)
	defer cancel()
	_, err = client.waitCheckout(waitCtx, session.ID, cfg.pollInterval)
	return err
}
