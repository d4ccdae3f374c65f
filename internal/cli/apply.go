package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/manifest"
	"github.com/watzon/oncue/internal/scripts"
)

var applyCmd = &cobra.Command{
	Use:   "apply <manifest>",
	Short: "Apply a declarative job manifest",
	Long: `Apply a declarative job manifest.

Jobs are upserted by name: new names are created, existing names are
updated, and entries whose stored state already matches are left alone,
so their fire times do not move. Script paths are resolved relative to
the manifest file and uploaded as needed.

Apply works directly against the database; a running daemon picks up
the changes on its next poll.

Example:
  oncue apply jobs.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]

	m, err := manifest.ParseFile(manifestPath)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithDefaults()
	if err != nil {
		log.Warn().Err(err).Msg("No config file found, using defaults")
		cfg = config.Default()
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	backend, err := scripts.NewBackend(ctx, &cfg.Scripts)
	if err != nil {
		return fmt.Errorf("setting up script storage: %w", err)
	}

	jobs := job.NewStore(db)
	svc := scripts.NewService(scripts.NewStore(db), jobs, backend)

	applier := manifest.NewApplier(jobs, svc)
	result, err := applier.Apply(ctx, m, filepath.Dir(manifestPath))
	if err != nil {
		return err
	}

	fmt.Printf("✓ Applied %d jobs: %d created, %d updated, %d unchanged\n",
		len(m.Jobs), len(result.Created), len(result.Updated), len(result.Unchanged))
	if len(result.Uploaded) > 0 {
		fmt.Printf("  Uploaded scripts: %s\n", strings.Join(result.Uploaded, ", "))
	}
	return nil
}
