package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/scripts"
	"github.com/watzon/oncue/internal/trigger"
)

// ApplyResult reports what an apply changed, by job name.
type ApplyResult struct {
	Created   []string
	Updated   []string
	Unchanged []string

	// Uploaded lists script names stored during the apply.
	Uploaded []string
}

// Applier upserts manifest entries through the job store and script
// service, so applied jobs behave exactly like ones created over the API.
type Applier struct {
	jobs    *job.Store
	scripts *scripts.Service
}

// NewApplier creates an applier.
func NewApplier(jobs *job.Store, scriptsSvc *scripts.Service) *Applier {
	return &Applier{
		jobs:    jobs,
		scripts: scriptsSvc,
	}
}

// Apply upserts every manifest entry. Script paths resolve relative to
// baseDir. Entries whose stored state already matches are left alone, so
// re-applying an unchanged manifest moves no fire times.
func (a *Applier) Apply(ctx context.Context, m *Manifest, baseDir string) (*ApplyResult, error) {
	result := &ApplyResult{}
	uploaded := make(map[string]bool)
	now := time.Now().UTC()

	for _, entry := range m.Jobs {
		scriptRef, err := a.resolveScript(ctx, entry.Script, baseDir, uploaded, result)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", entry.Name, err)
		}

		existing, err := a.jobs.GetByName(ctx, entry.Name)
		switch {
		case errors.Is(err, job.ErrNotFound):
			if err := a.create(ctx, entry, scriptRef, now); err != nil {
				return nil, fmt.Errorf("job %q: %w", entry.Name, err)
			}
			result.Created = append(result.Created, entry.Name)

		case err != nil:
			return nil, fmt.Errorf("job %q: %w", entry.Name, err)

		default:
			changed, err := a.update(ctx, existing, entry, scriptRef, now)
			if err != nil {
				return nil, fmt.Errorf("job %q: %w", entry.Name, err)
			}
			if changed {
				result.Updated = append(result.Updated, entry.Name)
			} else {
				result.Unchanged = append(result.Unchanged, entry.Name)
			}
		}
	}

	log.Info().
		Int("created", len(result.Created)).
		Int("updated", len(result.Updated)).
		Int("unchanged", len(result.Unchanged)).
		Int("scripts", len(result.Uploaded)).
		Msg("Manifest applied")

	return result, nil
}

// resolveScript uploads the referenced script file and returns the name
// jobs should reference. A reference with no file behind it falls back to
// an already stored script of the same name.
func (a *Applier) resolveScript(ctx context.Context, ref, baseDir string, uploaded map[string]bool, result *ApplyResult) (string, error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	name := filepath.Base(path)

	if uploaded[name] {
		return name, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if _, err := a.scripts.Get(ctx, name); err != nil {
			return "", fmt.Errorf("script %q: no such file and no stored script with that name", ref)
		}
		return name, nil
	}
	if err != nil {
		return "", fmt.Errorf("opening script %q: %w", ref, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("inspecting script %q: %w", ref, err)
	}

	script, err := a.scripts.Upload(ctx, name, f, info.Size())
	if err != nil {
		return "", fmt.Errorf("uploading script %q: %w", ref, err)
	}

	uploaded[name] = true
	result.Uploaded = append(result.Uploaded, script.Name)
	return script.Name, nil
}

func (a *Applier) create(ctx context.Context, entry Entry, scriptRef string, now time.Time) error {
	if err := entry.Rule.Validate(now); err != nil {
		return err
	}

	j := &job.Job{
		Name:           entry.Name,
		ScriptRef:      scriptRef,
		Rule:           entry.Rule,
		Timezone:       entry.Timezone,
		Enabled:        entry.Enabled,
		TimeoutSeconds: entry.TimeoutSeconds,
	}

	return a.jobs.Create(ctx, j)
}

// update reconciles a stored job with its manifest entry. The rule is
// only re-validated when it changed, so a manifest carrying an already
// fired once job keeps applying cleanly.
func (a *Applier) update(ctx context.Context, j *job.Job, entry Entry, scriptRef string, now time.Time) (bool, error) {
	ruleChanged := !j.Rule.Equal(entry.Rule)
	changed := ruleChanged ||
		j.ScriptRef != scriptRef ||
		j.Timezone != entry.Timezone ||
		j.Enabled != entry.Enabled ||
		j.TimeoutSeconds != entry.TimeoutSeconds

	if !changed {
		return false, nil
	}

	if ruleChanged {
		if err := entry.Rule.Validate(now); err != nil {
			return false, err
		}
		j.Rule = entry.Rule
		// A new rule anchors at now, not at the old rule's history.
		j.LastFireAt = nil
	}

	j.ScriptRef = scriptRef
	j.Timezone = entry.Timezone
	j.Enabled = entry.Enabled
	j.TimeoutSeconds = entry.TimeoutSeconds

	if j.Enabled {
		next, err := trigger.Next(&j.Rule, j.Timezone, j.LastFireAt, now)
		if err != nil {
			return false, err
		}
		j.NextFireAt = next
		j.LastError = ""
		j.ClaimedAt = nil
	} else {
		j.NextFireAt = nil
		j.ClaimedAt = nil
	}

	if err := a.jobs.Update(ctx, j); err != nil {
		return false, err
	}

	return true, nil
}
