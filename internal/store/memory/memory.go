// Package memory is an in-process implementation of core.Store.
//
// All data lives behind one mutex. A transaction holds the mutex for its
// whole duration and restores a snapshot if its function fails, which gives
// the same all-or-nothing behaviour as the Postgres store. It backs the
// service tests and STORE_BACKEND=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/auditimport/internal/core"
)

type state struct {
	jobs         map[string]core.Job
	outcomes     map[string][]core.RowOutcome
	manifest     map[string][]core.ManifestEntry
	observations map[uuid.UUID]core.Observation
	refs         map[core.ReferenceKind]map[uuid.UUID]core.Reference
	templates    map[string]core.MappingTemplate
}

func newState() *state {
	return &state{
		jobs:         make(map[string]core.Job),
		outcomes:     make(map[string][]core.RowOutcome),
		manifest:     make(map[string][]core.ManifestEntry),
		observations: make(map[uuid.UUID]core.Observation),
		refs:         make(map[core.ReferenceKind]map[uuid.UUID]core.Reference),
		templates:    make(map[string]core.MappingTemplate),
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.jobs {
		c.jobs[k] = v
	}
	for k, v := range st.outcomes {
		c.outcomes[k] = append([]core.RowOutcome(nil), v...)
	}
	for k, v := range st.manifest {
		c.manifest[k] = append([]core.ManifestEntry(nil), v...)
	}
	for k, v := range st.observations {
		c.observations[k] = v
	}
	for kind, m := range st.refs {
		c.refs[kind] = make(map[uuid.UUID]core.Reference, len(m))
		for k, v := range m {
			c.refs[kind][k] = v
		}
	}
	for k, v := range st.templates {
		c.templates[k] = v
	}
	return c
}

// Store implements core.Store in memory.
type Store struct {
	mu *sync.Mutex
	st *state

	// inTx is set on the view handed to a transaction function; the mutex
	// is already held.
	inTx bool
}

var _ core.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) with(fn func(st *state) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.st)
}

// InTx runs fn with exclusive access to the store. If fn fails, every
// change it made is undone.
func (s *Store) InTx(ctx context.Context, fn func(tx core.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	snap := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, inTx: true}
	if err := fn(tx); err != nil {
		*s.st = *snap
		return err
	}
	return nil
}

// ----------------------------------------------------------------------------
// References
// ----------------------------------------------------------------------------

// AddReference registers an audit or entity rows may point at.
func (s *Store) AddReference(ref core.Reference) {
	_ = s.with(func(st *state) error {
		if st.refs[ref.Kind] == nil {
			st.refs[ref.Kind] = make(map[uuid.UUID]core.Reference)
		}
		st.refs[ref.Kind][ref.ID] = ref
		return nil
	})
}

func (s *Store) LookupReference(ctx context.Context, kind core.ReferenceKind, id uuid.UUID) (core.Optional[core.Reference], error) {
	var out core.Optional[core.Reference]
	err := s.with(func(st *state) error {
		if ref, ok := st.refs[kind][id]; ok {
			out = core.Some(ref)
		} else {
			out = core.None[core.Reference]()
		}
		return nil
	})
	return out, err
}

// ----------------------------------------------------------------------------
// Jobs
// ----------------------------------------------------------------------------

func (s *Store) InsertJob(ctx context.Context, job core.Job) error {
	return s.with(func(st *state) error {
		if _, ok := st.jobs[job.ID]; ok {
			return fmt.Errorf("insert job %s: duplicate key", job.ID)
		}
		st.jobs[job.ID] = cloneJob(job)
		return nil
	})
}

func (s *Store) GetJob(ctx context.Context, id string) (core.Job, error) {
	var job core.Job
	err := s.with(func(st *state) error {
		j, ok := st.jobs[id]
		if !ok {
			return core.ErrJobNotFound
		}
		job = cloneJob(j)
		return nil
	})
	return job, err
}

func (s *Store) UpdateJob(ctx context.Context, id string, expect []core.JobStatus, fn func(*core.Job) error) (core.Job, error) {
	var out core.Job
	err := s.with(func(st *state) error {
		j, ok := st.jobs[id]
		if !ok {
			return core.ErrJobNotFound
		}
		if !statusIn(j.Status, expect) {
			out = cloneJob(j)
			return fmt.Errorf("%w: job %s is %s", core.ErrStatusConflict, id, j.Status)
		}
		next := cloneJob(j)
		if err := fn(&next); err != nil {
			return err
		}
		st.jobs[id] = next
		out = cloneJob(next)
		return nil
	})
	return out, err
}

func (s *Store) AppendOutcomes(ctx context.Context, jobID string, outcomes []core.RowOutcome) error {
	return s.with(func(st *state) error {
		st.outcomes[jobID] = append(st.outcomes[jobID], outcomes...)
		return nil
	})
}

func (s *Store) ListOutcomes(ctx context.Context, jobID string, filter core.OutcomeFilter) ([]core.RowOutcome, error) {
	var out []core.RowOutcome
	err := s.with(func(st *state) error {
		for _, o := range st.outcomes[jobID] {
			if filter.Outcome == "" || o.Outcome == filter.Outcome {
				out = append(out, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) AppendManifest(ctx context.Context, entries []core.ManifestEntry) error {
	return s.with(func(st *state) error {
		for _, e := range entries {
			st.manifest[e.JobID] = append(st.manifest[e.JobID], e)
		}
		return nil
	})
}

func (s *Store) ListManifest(ctx context.Context, jobID string) ([]core.ManifestEntry, error) {
	var out []core.ManifestEntry
	err := s.with(func(st *state) error {
		out = append(out, st.manifest[jobID]...)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, err
}

// ----------------------------------------------------------------------------
// Records
// ----------------------------------------------------------------------------

func (s *Store) CreateObservation(ctx context.Context, obs core.Observation) error {
	return s.with(func(st *state) error {
		if _, ok := st.observations[obs.ID]; ok {
			return fmt.Errorf("duplicate key value violates unique constraint \"observations_pkey\" (id %s)", obs.ID)
		}
		st.observations[obs.ID] = obs
		return nil
	})
}

func (s *Store) GetObservation(ctx context.Context, id uuid.UUID) (core.Observation, error) {
	var obs core.Observation
	err := s.with(func(st *state) error {
		o, ok := st.observations[id]
		if !ok || o.DeletedAt != nil {
			return core.ErrRecordNotFound
		}
		obs = o
		return nil
	})
	return obs, err
}

func (s *Store) SoftDelete(ctx context.Context, kind core.RecordKind, id uuid.UUID, at time.Time) (bool, error) {
	if kind != core.KindObservation {
		return false, fmt.Errorf("soft delete not supported for %s", kind)
	}
	var removed bool
	err := s.with(func(st *state) error {
		o, ok := st.observations[id]
		if !ok || o.DeletedAt != nil {
			return nil
		}
		o.DeletedAt = &at
		st.observations[id] = o
		removed = true
		return nil
	})
	return removed, err
}

func (s *Store) HardDelete(ctx context.Context, kind core.RecordKind, id uuid.UUID) (bool, error) {
	if kind != core.KindObservation {
		return false, fmt.Errorf("unknown record kind %s", kind)
	}
	var removed bool
	err := s.with(func(st *state) error {
		if _, ok := st.observations[id]; ok {
			delete(st.observations, id)
			removed = true
		}
		return nil
	})
	return removed, err
}

// Observations returns the live observations created by a job.
func (s *Store) Observations(jobID string) []core.Observation {
	var out []core.Observation
	_ = s.with(func(st *state) error {
		for _, o := range st.observations {
			if o.ImportJobID == jobID && o.DeletedAt == nil {
				out = append(out, o)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ----------------------------------------------------------------------------
// Templates
// ----------------------------------------------------------------------------

func (s *Store) InsertTemplate(ctx context.Context, t core.MappingTemplate) error {
	return s.with(func(st *state) error {
		if nameTaken(st, t.Name, "") {
			return fmt.Errorf("%w: %q", core.ErrTemplateExists, t.Name)
		}
		st.templates[t.ID] = t
		return nil
	})
}

func (s *Store) GetTemplate(ctx context.Context, id string) (core.MappingTemplate, error) {
	var t core.MappingTemplate
	err := s.with(func(st *state) error {
		var ok bool
		if t, ok = st.templates[id]; !ok {
			return core.ErrTemplateNotFound
		}
		return nil
	})
	return t, err
}

func (s *Store) ListTemplates(ctx context.Context, filter core.TemplateFilter) ([]core.MappingTemplate, error) {
	var out []core.MappingTemplate
	needle := strings.ToLower(filter.NameContains)
	err := s.with(func(st *state) error {
		for _, t := range st.templates {
			if needle != "" && !strings.Contains(strings.ToLower(t.Name), needle) {
				continue
			}
			if filter.CreatedBy != "" && t.CreatedBy != filter.CreatedBy {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, err
}

func (s *Store) UpdateTemplate(ctx context.Context, t core.MappingTemplate) error {
	return s.with(func(st *state) error {
		if _, ok := st.templates[t.ID]; !ok {
			return core.ErrTemplateNotFound
		}
		if nameTaken(st, t.Name, t.ID) {
			return fmt.Errorf("%w: %q", core.ErrTemplateExists, t.Name)
		}
		st.templates[t.ID] = t
		return nil
	})
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	return s.with(func(st *state) error {
		if _, ok := st.templates[id]; !ok {
			return core.ErrTemplateNotFound
		}
		delete(st.templates, id)
		return nil
	})
}

func nameTaken(st *state, name, exceptID string) bool {
	for id, t := range st.templates {
		if id != exceptID && strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func statusIn(status core.JobStatus, expect []core.JobStatus) bool {
	for _, s := range expect {
		if s == status {
			return true
		}
	}
	return false
}

func cloneJob(j core.Job) core.Job {
	j.Mapping = append(core.ColumnMapping(nil), j.Mapping...)
	return j
}
