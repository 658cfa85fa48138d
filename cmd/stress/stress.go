package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/ghuser/toolcrib/pkg/logger"
)

// options configures a stress run. Fields are read from flags and
// STRESS_* environment variables.
type options struct {
	BaseURL  string        `conf:"default:http://localhost:8080/api,help:API base URL"`
	Stock    int           `conf:"default:25,help:units of the scratch item"`
	Requests int           `conf:"default:200,help:single-unit borrow attempts"`
	Workers  int           `conf:"default:32,help:concurrent borrowers"`
	Cleanup  bool          `conf:"default:true,help:return every loan and delete the item afterwards"`
	Timeout  time.Duration `conf:"default:2m"`
}

// report summarises a stress run.
type report struct {
	EquipmentID uuid.UUID
	Stock       int
	Succeeded   int64
	Rejected    int64 // InsufficientStock
	Conflicts   int64 // ConcurrencyConflict after retries
	Failed      int64 // anything else
	Available   int
	Elapsed     time.Duration
}

// Oversold reports whether more units were lent than exist or the item's
// counters disagree with the successful borrows.
func (r report) Oversold() bool {
	return r.Succeeded > int64(r.Stock) || r.Available < 0 || r.Available != r.Stock-int(r.Succeeded)
}

type stressClient struct {
	base string
	http *http.Client
}

type apiError struct {
	Status int
	Kind   string `json:"kind"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Kind, e.Msg)
}

func (c *stressClient) call(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type equipmentBody struct {
	Equipment struct {
		ID                uuid.UUID `json:"id"`
		AvailableQuantity int       `json:"availableQuantity"`
	} `json:"equipment"`
}

// run creates a scratch item, fires opts.Requests concurrent single-unit
// borrows at it and checks the item never lent more than it had.
func run(ctx context.Context, opts options, client *http.Client, log logger.Logger) (report, error) {
	c := &stressClient{base: strings.TrimRight(opts.BaseURL, "/"), http: client}
	rep := report{Stock: opts.Stock}

	var created equipmentBody
	err := c.call(ctx, http.MethodPost, "/equipment", map[string]any{
		"name":          "stress-" + uuid.NewString()[:8],
		"kind":          "borrowable",
		"totalQuantity": opts.Stock,
		"unit":          "pcs",
	}, &created)
	if err != nil {
		return rep, fmt.Errorf("create scratch item: %w", err)
	}
	rep.EquipmentID = created.Equipment.ID
	log.InfoContext(ctx, "scratch item created", "equipment_id", rep.EquipmentID, "stock", opts.Stock)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		usageIDs []uuid.UUID
	)
	workers := max(opts.Workers, 1)
	pool, err := ants.NewPool(workers)
	if err != nil {
		return rep, fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	start := time.Now()
	for i := 0; i < opts.Requests; i++ {
		wg.Add(1)
		user := fmt.Sprintf("stress-user-%d", i%workers+1)
		err := pool.Submit(func() {
			defer wg.Done()
			var out struct {
				UsageID uuid.UUID `json:"usageId"`
			}
			err := c.call(ctx, http.MethodPost, "/inventory/borrow", map[string]any{
				"userId":      user,
				"equipmentId": rep.EquipmentID,
				"quantity":    1,
			}, &out)
			var apiErr *apiError
			switch {
			case err == nil:
				atomic.AddInt64(&rep.Succeeded, 1)
				mu.Lock()
				usageIDs = append(usageIDs, out.UsageID)
				mu.Unlock()
			case errors.As(err, &apiErr) && apiErr.Kind == "InsufficientStock":
				atomic.AddInt64(&rep.Rejected, 1)
			case errors.As(err, &apiErr) && apiErr.Kind == "ConcurrencyConflict":
				atomic.AddInt64(&rep.Conflicts, 1)
			default:
				atomic.AddInt64(&rep.Failed, 1)
				log.WarnContext(ctx, "borrow failed", "error", err)
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return rep, fmt.Errorf("submit borrow: %w", err)
		}
	}
	wg.Wait()
	rep.Elapsed = time.Since(start)

	var after equipmentBody
	if err := c.call(ctx, http.MethodGet, "/equipment/"+rep.EquipmentID.String(), nil, &after); err != nil {
		return rep, fmt.Errorf("read back item: %w", err)
	}
	rep.Available = after.Equipment.AvailableQuantity

	if opts.Cleanup {
		for _, id := range usageIDs {
			if err := c.call(ctx, http.MethodPost, "/inventory/return", map[string]any{"usageId": id}, nil); err != nil {
				log.WarnContext(ctx, "cleanup return failed", "usage_id", id, "error", err)
			}
		}
		if err := c.call(ctx, http.MethodDelete, "/equipment/"+rep.EquipmentID.String(), nil, nil); err != nil {
			log.WarnContext(ctx, "cleanup delete failed", "equipment_id", rep.EquipmentID, "error", err)
		}
	}
	return rep, nil
}
