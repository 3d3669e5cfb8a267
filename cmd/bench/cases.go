// README: Bench cases: environment, order flow, claim race, consistency and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"tiffin/internal/modules/payment"
	"tiffin/internal/modules/stream"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// Order placed by the flow cases and reused by later ones.
	orderID string
	code    string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func skip(note string) Result { return Result{Status: "SKIP", Note: note} }
func fail(note string) Result { return Result{Status: "FAIL", Note: note} }

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return fail("db not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return fail(err.Error())
			}
			return Result{Status: "PASS"}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return fail("redis not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return fail(err.Error())
			}
			return Result{Status: "PASS"}
		}},
		{Name: "Migration: apply (optional)", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return skip("apply-migration=false")
			}
			if r.db == nil {
				return fail("db not configured")
			}
			sql, err := os.ReadFile(r.cfg.MigrationPath)
			if err != nil {
				return fail(err.Error())
			}
			for _, s := range splitSQL(string(sql)) {
				if _, err := r.db.Exec(ctx, s); err != nil {
					return fail(err.Error())
				}
			}
			return Result{Status: "PASS"}
		}},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK, nil)
		}},
		{Name: "API: metrics exposed", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/metrics", "", nil, http.StatusOK, nil)
		}},
		{Name: "Auth: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/orders", "", nil, http.StatusUnauthorized, nil)
		}},
		{Name: "Pricing: quote", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.CustomerToken == "" {
				return skip("no customer token")
			}
			return r.expect(ctx, http.MethodPost, "/api/cart/quote", r.cfg.CustomerToken, map[string]any{
				"items": cartItems(),
			}, http.StatusOK, nil)
		}},
		{Name: "Order: checkout cod", Run: checkout},
		{Name: "Order: illegal transition -> 409", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" || r.cfg.AdminToken == "" {
				return skip("needs placed order and admin token")
			}
			return r.expect(ctx, http.MethodPut, "/api/admin/orders/"+r.orderID+"/status", r.cfg.AdminToken,
				map[string]any{"status": "shipped"}, http.StatusConflict, nil)
		}},
		{Name: "Stream: confirm is published", Run: confirmPublished},
		{Name: "Concurrency: riders race to claim", Run: claimRace},
		{Name: "Delivery: wrong code -> 422", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" || len(r.cfg.RiderTokens) == 0 {
				return skip("needs claimed order")
			}
			wrong := "0000"
			if r.code == wrong {
				wrong = "1111"
			}
			return r.expect(ctx, http.MethodPost, "/api/rider/orders/"+r.orderID+"/deliver", r.winner(ctx),
				map[string]any{"code": wrong}, http.StatusUnprocessableEntity, nil)
		}},
		{Name: "Delivery: correct code", Run: func(ctx context.Context, r *Runner) Result {
			if r.orderID == "" || len(r.cfg.RiderTokens) == 0 {
				return skip("needs claimed order")
			}
			return r.expect(ctx, http.MethodPost, "/api/rider/orders/"+r.orderID+"/deliver", r.winner(ctx),
				map[string]any{"code": r.code}, http.StatusOK, nil)
		}},
		{Name: "Consistency: one event per version", Run: eventsMatchVersion},
		{Name: "Payment: forged webhook still 200", Run: func(ctx context.Context, r *Runner) Result {
			return r.webhook(ctx, "forged")
		}},
		{Name: "Payment: signed webhook for unknown order 200", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.WebhookSecret == "" {
				return skip("no webhook secret")
			}
			return r.webhook(ctx, "")
		}},
		{Name: "Perf: quote throughput", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.CustomerToken == "" {
				return skip("no customer token")
			}
			return perfLoad(ctx, r, "/api/cart/quote", map[string]any{"items": cartItems()})
		}},
	}
}

func cartItems() []map[string]any {
	return []map[string]any{
		{"id": "thali", "name": "Veg Thali", "unit_price": "250", "quantity": 2},
		{"id": "lassi", "name": "Sweet Lassi", "unit_price": "60", "quantity": 1},
	}
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, time.Since(start), nil
}

// expect runs one request and passes when the status matches; out, when set, receives the body.
func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int, out any) Result {
	status, b, latency, err := r.do(ctx, method, path, token, body)
	if err != nil {
		return fail(err.Error())
	}
	if status != want {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d want=%d body=%s", status, want, truncate(b))}
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return Result{Status: "FAIL", Latency: latency, Note: err.Error()}
		}
	}
	return Result{Status: "PASS", Latency: latency}
}

func checkout(ctx context.Context, r *Runner) Result {
	if r.cfg.CustomerToken == "" {
		return skip("no customer token")
	}
	var o struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		ConfirmationCode string `json:"confirmation_code"`
	}
	res := r.expect(ctx, http.MethodPost, "/api/orders", r.cfg.CustomerToken, map[string]any{
		"contact":          map[string]any{"name": "Bench Customer", "phone": "+910000000000"},
		"items":            cartItems(),
		"shipping_address": "1 Bench Street",
		"payment_method":   "cod",
	}, http.StatusCreated, &o)
	if res.Status != "PASS" {
		return res
	}
	if o.Status != "order_placed" || len(o.ConfirmationCode) != 4 {
		return Result{Status: "FAIL", Latency: res.Latency, Note: fmt.Sprintf("status=%s code=%q", o.Status, o.ConfirmationCode)}
	}
	r.orderID, r.code = o.ID, o.ConfirmationCode
	res.Note = "order=" + o.ID
	return res
}

func confirmPublished(ctx context.Context, r *Runner) Result {
	if r.orderID == "" || r.cfg.AdminToken == "" {
		return skip("needs placed order and admin token")
	}
	var sub *redis.PubSub
	if r.redis != nil {
		sub = r.redis.Subscribe(ctx, stream.DefaultChannel)
		defer sub.Close()
		if _, err := sub.Receive(ctx); err != nil {
			sub = nil
		}
	}
	res := r.expect(ctx, http.MethodPut, "/api/admin/orders/"+r.orderID+"/status", r.cfg.AdminToken,
		map[string]any{"status": "confirmed"}, http.StatusOK, nil)
	if res.Status != "PASS" || sub == nil {
		return res
	}
	wait, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	for {
		msg, err := sub.ReceiveMessage(wait)
		if err != nil {
			return Result{Status: "FAIL", Latency: res.Latency, Note: "no change published: " + err.Error()}
		}
		if strings.Contains(msg.Payload, r.orderID) {
			return res
		}
	}
}

func claimRace(ctx context.Context, r *Runner) Result {
	if r.orderID == "" || len(r.cfg.RiderTokens) < 2 {
		return skip("needs confirmed order and at least two rider tokens")
	}
	path := "/api/rider/orders/" + r.orderID + "/claim"
	statuses := make([]int, len(r.cfg.RiderTokens))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, tok := range r.cfg.RiderTokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			<-start
			status, _, _, err := r.do(ctx, http.MethodPost, path, tok, map[string]any{"rider_name": fmt.Sprintf("Bench Rider %d", i)})
			if err == nil {
				statuses[i] = status
			}
		}(i, tok)
	}
	close(start)
	wg.Wait()

	won, taken := 0, 0
	for _, s := range statuses {
		switch s {
		case http.StatusOK:
			won++
		case http.StatusConflict:
			taken++
		}
	}
	note := fmt.Sprintf("won=%d taken=%d of %d", won, taken, len(statuses))
	if won != 1 || won+taken != len(statuses) {
		return fail(note)
	}
	return Result{Status: "PASS", Note: note}
}

// winner returns the token of the rider holding the order. Claiming again is idempotent for
// the holder and 409 for everyone else.
func (r *Runner) winner(ctx context.Context) string {
	for _, tok := range r.cfg.RiderTokens {
		status, _, _, err := r.do(ctx, http.MethodPost, "/api/rider/orders/"+r.orderID+"/claim", tok, nil)
		if err == nil && status == http.StatusOK {
			return tok
		}
	}
	return r.cfg.RiderTokens[0]
}

func eventsMatchVersion(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.orderID == "" {
		return skip("needs db and placed order")
	}
	var version, events int
	if err := r.db.QueryRow(ctx, `SELECT status_version FROM orders WHERE id = $1`, r.orderID).Scan(&version); err != nil {
		return fail(err.Error())
	}
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM order_state_events WHERE order_id = $1`, r.orderID).Scan(&events); err != nil {
		return fail(err.Error())
	}
	note := fmt.Sprintf("version=%d events=%d", version, events)
	if events != version+1 {
		return fail(note)
	}
	return Result{Status: "PASS", Note: note}
}

func (r *Runner) webhook(ctx context.Context, signature string) Result {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_bench","order_id":"gw_bench_unknown"}}}}`)
	if signature == "" {
		signature = payment.NewVerifier(r.cfg.WebhookSecret, "").SignWebhook(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/webhooks/payment", bytes.NewReader(body))
	if err != nil {
		return fail(err.Error())
	}
	req.Header.Set("X-Signature", signature)
	resp, err := r.httpc.Do(req)
	if err != nil {
		return fail(err.Error())
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Sprintf("status=%d", resp.StatusCode))
	}
	return Result{Status: "PASS"}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return fail("db not configured")
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return fail(err.Error())
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return fail(err.Error())
		}
		if !exists {
			return fail("missing table: " + t)
		}
	}
	return Result{Status: "PASS", Note: fmt.Sprintf("%d tables", len(tables))}
}

func perfLoad(ctx context.Context, r *Runner, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.do(ctx, http.MethodPost, path, r.cfg.CustomerToken, payload)
				mu.Lock()
				if err != nil || status != http.StatusOK {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return fail("no requests completed")
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
