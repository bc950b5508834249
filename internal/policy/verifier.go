package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/store"
)

// AgreementSource looks up stored agreements by id.
type AgreementSource interface {
	GetAgreement(ctx context.Context, id string) (ir.Agreement, error)
}

// Decision is the result of a usage check. A denied decision carries the
// reason; warnings report post-duties that could not be carried out.
type Decision struct {
	Granted     bool
	Patterns    []ir.PolicyPattern
	Reason      string
	Warnings    []string
	DeleteAfter *time.Time
}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// VerifyInput is one access attempt.
type VerifyInput struct {
	ArtifactID      string
	Issuer          string
	SecurityProfile string
	Agreement       ir.Agreement
}

// Verifier enforces agreement rules on artifact access.
type Verifier struct {
	counter     AccessCounter
	firstAccess FirstAccessRecorder
	retention   RetentionStore
	duties      *DutyExecutor
	agreements  AgreementSource
	now         func() time.Time
	settings    Settings
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// Settings supplies switches that may change while the connector runs.
type Settings interface {
	AllowUnsupported() bool
}

type fixedSettings bool

func (f fixedSettings) AllowUnsupported() bool { return bool(f) }

// WithSettings reads the unsupported-pattern switch from s on every
// verification.
func WithSettings(s Settings) Option {
	return func(v *Verifier) { v.settings = s }
}

// WithAllowUnsupported lets rules that match no known pattern pass with a
// warning instead of denying access.
func WithAllowUnsupported(allow bool) Option {
	return WithSettings(fixedSettings(allow))
}

// WithCounter replaces the access counter.
func WithCounter(c AccessCounter) Option {
	return func(v *Verifier) { v.counter = c }
}

// WithDuties sets the executor for logging and notification duties.
func WithDuties(d *DutyExecutor) Option {
	return func(v *Verifier) { v.duties = d }
}

// Store is everything the verifier needs from persistence.
type Store interface {
	AccessCounter
	FirstAccessRecorder
	RetentionStore
	AgreementSource
}

// NewVerifier returns a verifier backed by st. The store also serves as
// access counter unless WithCounter says otherwise.
func NewVerifier(st Store, opts ...Option) *Verifier {
	v := &Verifier{
		counter:     st,
		firstAccess: st,
		retention:   st,
		agreements:  st,
		settings:    fixedSettings(false),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyAccess loads the agreement and verifies it for the requester.
func (v *Verifier) VerifyAccess(ctx context.Context, artifactID, requesterID, agreementID, securityProfile string) Decision {
	agreement, err := v.agreements.GetAgreement(ctx, agreementID)
	if err != nil {
		return deny("load agreement %s: %v", agreementID, err)
	}
	return v.Verify(ctx, VerifyInput{
		ArtifactID:      artifactID,
		Issuer:          requesterID,
		SecurityProfile: securityProfile,
		Agreement:       agreement,
	})
}

type classifiedRule struct {
	rule    ir.Rule
	pattern ir.PolicyPattern
}

// Verify decides whether the issuer may access the artifact under the
// agreement. Every rule of the agreement targeting the artifact must grant.
// Side-effect-free checks run first. The counter increment follows, and the
// first access is marked only once the counter has granted.
func (v *Verifier) Verify(ctx context.Context, in VerifyInput) Decision {
	now := v.now()

	var rules []classifiedRule
	var warnings []string
	for _, r := range append(append([]ir.Rule{}, in.Agreement.Permissions...), in.Agreement.Prohibitions...) {
		if r.Target != in.ArtifactID {
			continue
		}
		pattern, ok := Classify(r)
		if !ok {
			if v.settings.AllowUnsupported() {
				slog.Warn("unsupported policy pattern allowed", "rule", r.ID, "artifact", in.ArtifactID)
				warnings = append(warnings, fmt.Sprintf("rule %s: unsupported pattern ignored", r.ID))
				continue
			}
			return deny("rule %s matches no supported policy pattern", r.ID)
		}
		rules = append(rules, classifiedRule{rule: r, pattern: pattern})
	}
	if len(rules) == 0 && len(warnings) == 0 {
		return deny("agreement %s has no rule for %s", in.Agreement.ID, in.ArtifactID)
	}

	d := Decision{Warnings: warnings}
	for _, cr := range rules {
		d.Patterns = append(d.Patterns, cr.pattern)
	}

	var durations []ir.Rule
	limit := int64(-1)
	for _, cr := range rules {
		switch cr.pattern {
		case ir.PatternProhibitAccess:
			return deny("rule %s prohibits access", cr.rule.ID)

		case ir.PatternProvideAccess, ir.PatternUsageLogging, ir.PatternUsageNotification:

		case ir.PatternUsageDuringInterval, ir.PatternUsageUntilDeletion:
			start, end, err := TimeInterval(cr.rule)
			if err != nil {
				return deny("rule %s: %v", cr.rule.ID, err)
			}
			if now.Before(start) || !CheckDate(now, end) {
				return deny("rule %s: access outside %s..%s", cr.rule.ID, start.Format(time.RFC3339), end.Format(time.RFC3339))
			}
			if cr.pattern == ir.PatternUsageUntilDeletion {
				at, err := DeletionDate(cr.rule)
				if err != nil {
					return deny("rule %s: %v", cr.rule.ID, err)
				}
				if d.DeleteAfter == nil || at.Before(*d.DeleteAfter) {
					d.DeleteAfter = &at
				}
			}

		case ir.PatternConnectorRestrictedUsage:
			allowed, err := AllowedConnector(cr.rule)
			if err != nil {
				return deny("rule %s: %v", cr.rule.ID, err)
			}
			if allowed != in.Issuer {
				return deny("rule %s: connector %s is not allowed", cr.rule.ID, in.Issuer)
			}

		case ir.PatternSecurityProfileRestricted:
			required, err := RequiredSecurityProfile(cr.rule)
			if err != nil {
				return deny("rule %s: %v", cr.rule.ID, err)
			}
			if required != in.SecurityProfile {
				return deny("rule %s: security profile %q required", cr.rule.ID, required)
			}

		case ir.PatternDurationUsage:
			if _, err := Duration(cr.rule); err != nil {
				return deny("rule %s: %v", cr.rule.ID, err)
			}
			durations = append(durations, cr.rule)

		case ir.PatternNTimesUsage:
			n, err := MaxAccess(cr.rule)
			if err != nil {
				return deny("rule %s: %v", cr.rule.ID, err)
			}
			if limit < 0 || n < limit {
				limit = n
			}

		default:
			return deny("rule %s: pattern %s not enforceable", cr.rule.ID, cr.pattern)
		}
	}

	if d.DeleteAfter != nil && now.After(*d.DeleteAfter) {
		if err := v.scheduleDeletion(ctx, in.ArtifactID, *d.DeleteAfter); err != nil {
			d.Warnings = append(d.Warnings, err.Error())
		}
	}

	if len(durations) > 0 {
		if v.firstAccess == nil {
			return deny("no first access store configured")
		}
		first, err := v.firstAccess.FirstAccess(ctx, in.ArtifactID)
		if err != nil {
			return deny("first access of %s: %v", in.ArtifactID, err)
		}
		start := now
		if first != nil {
			start = *first
		}
		for _, r := range durations {
			dur, _ := Duration(r)
			if !CheckDate(now, dur.AddTo(start)) {
				return deny("rule %s: usage period %s expired", r.ID, dur)
			}
		}
	}

	if limit >= 0 {
		if v.counter == nil {
			return deny("no access counter configured")
		}
		ok, err := v.counter.IncrementAccessIfBelow(ctx, in.ArtifactID, limit)
		if err != nil {
			return deny("count access of %s: %v", in.ArtifactID, err)
		}
		if !ok {
			return deny("access limit %d reached for %s", limit, in.ArtifactID)
		}
	}

	if len(durations) > 0 {
		if _, err := v.firstAccess.MarkFirstAccess(ctx, in.ArtifactID, now); err != nil {
			return deny("first access of %s: %v", in.ArtifactID, err)
		}
	}

	d.Granted = true
	d.Warnings = append(d.Warnings, v.runDuties(ctx, in, rules, now)...)
	return d
}

func (v *Verifier) runDuties(ctx context.Context, in VerifyInput, rules []classifiedRule, now time.Time) []string {
	var warnings []string
	ev := UsageEvent{Target: in.ArtifactID, Issuer: in.Issuer, Accessed: now}
	for _, cr := range rules {
		var err error
		switch cr.pattern {
		case ir.PatternUsageLogging:
			if v.duties == nil {
				err = errors.New("no duty executor configured")
				break
			}
			err = v.duties.Log(ctx, ev)
		case ir.PatternUsageNotification:
			if v.duties == nil {
				err = errors.New("no duty executor configured")
				break
			}
			var endpoint string
			if endpoint, err = Endpoint(cr.rule); err == nil {
				err = v.duties.Notify(ctx, endpoint, ev)
			}
		default:
			continue
		}
		if err != nil {
			slog.Warn("post-duty failed", "rule", cr.rule.ID, "pattern", cr.pattern, "error", err)
			warnings = append(warnings, fmt.Sprintf("rule %s: %v", cr.rule.ID, err))
		}
	}
	return warnings
}

func (v *Verifier) scheduleDeletion(ctx context.Context, artifactID string, at time.Time) error {
	if v.retention == nil {
		return errors.New("no retention store configured")
	}
	if err := v.retention.ScheduleDeletion(ctx, artifactID, at); err != nil {
		return fmt.Errorf("schedule deletion of %s: %w", artifactID, err)
	}
	return nil
}

// ScheduleRetention registers the deletion date of every usage-until-deletion
// rule on target for the local copy localID. It returns the earliest date,
// or nil when no rule demands deletion.
func (v *Verifier) ScheduleRetention(ctx context.Context, agreement ir.Agreement, target, localID string) (*time.Time, error) {
	var earliest *time.Time
	for _, r := range agreement.Permissions {
		if r.Target != target {
			continue
		}
		if p, ok := Classify(r); !ok || p != ir.PatternUsageUntilDeletion {
			continue
		}
		at, err := DeletionDate(r)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if earliest == nil || at.Before(*earliest) {
			earliest = &at
		}
	}
	if earliest == nil {
		return nil, nil
	}
	if err := v.scheduleDeletion(ctx, localID, *earliest); err != nil {
		return nil, err
	}
	return earliest, nil
}

// SweepDeletions deletes the data of every artifact whose deletion date has
// passed. It keeps going after a failure and returns the number deleted.
func (v *Verifier) SweepDeletions(ctx context.Context) (int, error) {
	if v.retention == nil {
		return 0, errors.New("no retention store configured")
	}
	due, err := v.retention.DueDeletions(ctx, v.now())
	if err != nil {
		return 0, err
	}

	var errs []error
	deleted := 0
	for _, id := range due {
		if err := v.retention.DeleteArtifactData(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		deleted++
		slog.Info("artifact data deleted", "artifact", id)
		if v.duties != nil && v.duties.audit != nil {
			if err := v.duties.audit.AppendAudit(ctx, store.AuditEntry{
				ID:     v.duties.ids.Generate(),
				Kind:   store.AuditDeletion,
				Target: id,
			}); err != nil {
				slog.Warn("deletion audit failed", "artifact", id, "error", err)
			}
		}
	}
	return deleted, errors.Join(errs...)
}
