package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/store"
)

// AuditLog receives usage log entries.
type AuditLog interface {
	AppendAudit(ctx context.Context, e store.AuditEntry) error
}

// DutyExecutor carries out post-duties after access is granted.
type DutyExecutor struct {
	audit  AuditLog
	client *http.Client
	ids    ir.IDGenerator
	now    func() time.Time
}

// NewDutyExecutor returns an executor that logs to audit and notifies over client.
func NewDutyExecutor(audit AuditLog, client *http.Client, ids ir.IDGenerator) *DutyExecutor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ids == nil {
		ids = ir.UUIDv7Generator{}
	}
	return &DutyExecutor{audit: audit, client: client, ids: ids, now: time.Now}
}

// UsageEvent describes one granted access.
type UsageEvent struct {
	Target   string    `json:"target"`
	Issuer   string    `json:"issuer"`
	Accessed time.Time `json:"accessed"`
}

// Log appends an access entry to the audit log.
func (d *DutyExecutor) Log(ctx context.Context, ev UsageEvent) error {
	if d.audit == nil {
		return fmt.Errorf("log usage: no audit log configured")
	}
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return d.audit.AppendAudit(ctx, store.AuditEntry{
		ID:     d.ids.Generate(),
		Kind:   store.AuditAccess,
		Target: ev.Target,
		Issuer: ev.Issuer,
		Detail: string(detail),
	})
}

// Notify posts the event to endpoint as JSON. Any non-2xx status is an error.
func (d *DutyExecutor) Notify(ctx context.Context, endpoint string, ev UsageEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify %s: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}
