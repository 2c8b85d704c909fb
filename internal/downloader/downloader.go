// Package downloader fetches kline data from the exchange, both for the RSI
// entry gate (recent windows) and for backtests (historical CSV dumps).
package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
)

// KlineDownloader wraps the public kline endpoints. No API key is needed.
type KlineDownloader struct {
	client *binance.Client
}

// NewKlineDownloader creates a downloader against the public API.
func NewKlineDownloader() *KlineDownloader {
	return &KlineDownloader{client: binance.NewClient("", "")}
}

// Klines fetches the most recent candles for one symbol. This satisfies the
// kline source the RSI watcher polls.
func (d *KlineDownloader) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	raw, err := d.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	out := make([]models.Kline, 0, len(raw))
	for _, k := range raw {
		parsed, err := parseKline(k)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

func parseKline(k *binance.Kline) (models.Kline, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.Kline{}, fmt.Errorf("bad kline open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.Kline{}, fmt.Errorf("bad kline high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.Kline{}, fmt.Errorf("bad kline low %q: %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.Kline{}, fmt.Errorf("bad kline close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.Kline{}, fmt.Errorf("bad kline volume %q: %w", k.Volume, err)
	}
	return models.Kline{
		OpenTime:  k.OpenTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: k.CloseTime,
	}, nil
}

// DownloadKlines downloads 1m klines for the given range into a CSV file.
// An existing file is treated as a cache and left untouched.
func (d *KlineDownloader) DownloadKlines(symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		fmt.Printf("loading data from cache: %s\n", filePath)
		return nil
	}

	fmt.Printf("downloading %s klines from %s to %s...\n",
		symbol, startTime.Format("2006-01-02"), endTime.Format("2006-01-02"))

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"open_time", "open", "high", "low", "close", "volume", "close_time"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval("1m").
			StartTime(t.UnixMilli()).
			Limit(1000). // exchange max per request
			Do(context.Background())
		if err != nil {
			return fmt.Errorf("failed to download klines: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV record: %w", err)
			}
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		fmt.Printf("downloaded up to %s\n", t.Format("2006-01-02 15:04:05"))
		time.Sleep(200 * time.Millisecond) // stay under the request weight limit
	}

	fmt.Printf("kline data saved to %s\n", filePath)
	return nil
}

// LoadKlinesCSV reads a downloaded CSV back into memory for replay.
func LoadKlinesCSV(filePath string) ([]models.Kline, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read data file %s: %w", filePath, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("data file %s has no kline rows", filePath)
	}

	out := make([]models.Kline, 0, len(records)-1)
	for i, rec := range records[1:] { // skip header
		if len(rec) < 7 {
			return nil, fmt.Errorf("row %d of %s is malformed", i+2, filePath)
		}
		openTime, err1 := strconv.ParseInt(rec[0], 10, 64)
		open, err2 := strconv.ParseFloat(rec[1], 64)
		high, err3 := strconv.ParseFloat(rec[2], 64)
		low, err4 := strconv.ParseFloat(rec[3], 64)
		closePrice, err5 := strconv.ParseFloat(rec[4], 64)
		volume, err6 := strconv.ParseFloat(rec[5], 64)
		closeTime, err7 := strconv.ParseInt(rec[6], 10, 64)
		for _, err := range []error{err1, err2, err3, err4, err5, err6, err7} {
			if err != nil {
				return nil, fmt.Errorf("row %d of %s is malformed: %w", i+2, filePath, err)
			}
		}
		out = append(out, models.Kline{
			OpenTime: openTime, Open: open, High: high, Low: low,
			Close: closePrice, Volume: volume, CloseTime: closeTime,
		})
	}
	return out, nil
}
