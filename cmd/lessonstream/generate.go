package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/yungbote/lessonstream/internal/app"
	"github.com/yungbote/lessonstream/internal/lesson/emitter"
	"github.com/yungbote/lessonstream/internal/lesson/pipeline"
)

type generateFlags struct {
	prompt   string
	domain   string
	ageGroup string
	mock     bool
	noImage  bool
	noVoice  bool
	noSFX    bool
	tenant   bool
}

func newGenerateCommand(load func() (app.Config, error)) *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one lesson and write its messages to stdout as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && f.prompt == "" {
				f.prompt = args[0]
			}
			req := pipeline.Request{
				Prompt:   f.prompt,
				Domain:   f.domain,
				AgeGroup: f.ageGroup,
				Media: pipeline.Media{
					EnableImage:       !f.noImage,
					EnableVoice:       !f.noVoice,
					EnableSoundEffect: !f.noSFX,
					Demo:              !f.tenant,
				},
			}
			if err := req.Validate(); err != nil {
				return err
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			if f.mock {
				cfg.Text.Provider = app.ProviderMock
			}
			g, err := app.NewGenerator(cfg)
			if err != nil {
				return err
			}
			defer g.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			res, err := g.Runner.Run(ctx, pipeline.NewRunID(), req, emitter.NewJSONLinesSink(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s %s (repair stage %s)\n", res.RunID, res.Phase, res.RepairStage)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.prompt, "prompt", "p", "", "lesson request")
	fl.StringVar(&f.domain, "domain", "", "subject domain, e.g. science")
	fl.StringVar(&f.ageGroup, "age-group", "", "learner age band, e.g. 6-8")
	fl.BoolVar(&f.mock, "mock", false, "use the built-in mock planner instead of a model")
	fl.BoolVar(&f.noImage, "no-image", false, "disable image generation")
	fl.BoolVar(&f.noVoice, "no-voice", false, "disable voice narration")
	fl.BoolVar(&f.noSFX, "no-sfx", false, "disable sound effects")
	fl.BoolVar(&f.tenant, "tenant", false, "use the tenant credential pool instead of the demo pool")
	return cmd
}
