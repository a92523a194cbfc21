package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	accountdomain "account-lifecycle/internal/account/domain"
	moderationdomain "account-lifecycle/internal/moderation/domain"
	moderationrepo "account-lifecycle/internal/moderation/repository"
)

type moderationRepo struct {
	s  *Store
	tx *state
}

func (r *moderationRepo) Append(ctx context.Context, rec *moderationdomain.Record) error {
	if err := r.s.inject("moderation.Append"); err != nil {
		return err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	st.records = append(st.records, rec.Clone())
	return nil
}

func (r *moderationRepo) LatestByAction(ctx context.Context, accountID string, action moderationdomain.Action) (*moderationdomain.Record, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	var latest *moderationdomain.Record
	for _, rec := range st.records {
		if rec.AccountID == accountID && rec.Action == action && newer(rec, latest) {
			latest = rec
		}
	}
	return latest.Clone(), nil
}

func (r *moderationRepo) StampPurged(ctx context.Context, recordID string, at time.Time, by string) error {
	if err := r.s.inject("moderation.StampPurged"); err != nil {
		return err
	}
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	for _, rec := range st.records {
		if rec.ID == recordID && rec.PurgedAt == nil {
			t := at
			rec.PurgedAt = &t
			rec.PurgedBy = by
			return nil
		}
	}
	return moderationrepo.ErrAlreadyPurged
}

func (r *moderationRepo) ListSoftbanned(ctx context.Context, f moderationdomain.Filter) ([]*moderationdomain.Record, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	latest := map[string]*moderationdomain.Record{}
	for _, rec := range st.records {
		if rec.Action != moderationdomain.ActionSoftban {
			continue
		}
		if a, ok := st.accounts[rec.AccountID]; !ok || a.BanState != accountdomain.BanSoftbanned {
			continue
		}
		if newer(rec, latest[rec.AccountID]) {
			latest[rec.AccountID] = rec
		}
	}
	var out []*moderationdomain.Record
	for _, rec := range latest {
		if matches(rec, f, rec.CreatedAt, rec.ActorID == f.Actor) {
			out = append(out, rec.Clone())
		}
	}
	sortDesc(out, func(r *moderationdomain.Record) time.Time { return r.CreatedAt })
	return page(out, f), nil
}

func (r *moderationRepo) ListPurged(ctx context.Context, f moderationdomain.Filter) ([]*moderationdomain.Record, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	var out []*moderationdomain.Record
	for _, rec := range st.records {
		if rec.PurgedAt == nil {
			continue
		}
		if matches(rec, f, *rec.PurgedAt, rec.ActorID == f.Actor || rec.PurgedBy == f.Actor) {
			out = append(out, rec.Clone())
		}
	}
	sortDesc(out, func(r *moderationdomain.Record) time.Time { return *r.PurgedAt })
	return page(out, f), nil
}

func (r *moderationRepo) ListByAccount(ctx context.Context, accountID string) ([]*moderationdomain.Record, error) {
	st, unlock := r.s.acquire(r.tx)
	defer unlock()
	var out []*moderationdomain.Record
	for _, rec := range st.records {
		if rec.AccountID == accountID {
			out = append(out, rec.Clone())
		}
	}
	sortDesc(out, func(r *moderationdomain.Record) time.Time { return r.CreatedAt })
	return out, nil
}

func newer(rec, than *moderationdomain.Record) bool {
	if than == nil {
		return true
	}
	if rec.CreatedAt.Equal(than.CreatedAt) {
		return rec.ID > than.ID
	}
	return rec.CreatedAt.After(than.CreatedAt)
}

func matches(rec *moderationdomain.Record, f moderationdomain.Filter, at time.Time, actorMatch bool) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Q)); q != "" &&
		!strings.Contains(strings.ToLower(rec.SubjectEmail), q) && !strings.Contains(strings.ToLower(rec.SubjectName), q) {
		return false
	}
	if f.Role != "" && rec.SubjectRole != f.Role {
		return false
	}
	if len(f.Roles) > 0 && !slices.Contains(f.Roles, rec.SubjectRole) {
		return false
	}
	if f.Actor != "" && !actorMatch {
		return false
	}
	if f.From != nil && at.Before(*f.From) {
		return false
	}
	if f.To != nil && at.After(*f.To) {
		return false
	}
	return true
}

func sortDesc(recs []*moderationdomain.Record, key func(*moderationdomain.Record) time.Time) {
	sort.Slice(recs, func(i, j int) bool {
		ki, kj := key(recs[i]), key(recs[j])
		if ki.Equal(kj) {
			return recs[i].ID > recs[j].ID
		}
		return ki.After(kj)
	})
}

func page(recs []*moderationdomain.Record, f moderationdomain.Filter) []*moderationdomain.Record {
	if f.Offset >= len(recs) {
		return nil
	}
	recs = recs[f.Offset:]
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}
