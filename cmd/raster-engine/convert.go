package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/raster-engine/internal/analyze"
	"github.com/pdiddy/raster-engine/internal/engine"
	"github.com/pdiddy/raster-engine/internal/export"
	"github.com/pdiddy/raster-engine/internal/queue"
	"github.com/pdiddy/raster-engine/internal/registry"
	"github.com/pdiddy/raster-engine/internal/render"
	"github.com/pdiddy/raster-engine/internal/secrets"
	"github.com/pdiddy/raster-engine/internal/store"
	"github.com/pdiddy/raster-engine/pkg/types"
)

var convertCmd = &cobra.Command{
	Use:   "convert [pdfs...]",
	Short: "Convert PDF documents to page images",
	Long: `Convert renders every page of the given PDF documents as images. Each
document is converted independently: a failing document does not stop
the batch, and re-running the command renders only pages that failed
before.

With --analyze the first page of each document is summarized through the
Claude API and the summary is written next to the images.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := settingsFromFlags(cmd)
		if err != nil {
			return err
		}

		outDir, _ := cmd.Flags().GetString("out")
		asZip, _ := cmd.Flags().GetBool("zip")
		page, _ := cmd.Flags().GetInt("page")

		st := store.New()
		if err := st.SetRenderSettings(settings); err != nil {
			return err
		}

		analyzer, err := analyzerFromFlags(cmd)
		if err != nil {
			return err
		}

		eng := engine.New(engine.Config{
			Store:    st,
			Registry: registry.New(),
			Loader:   render.FitzLoader{},
			Analyzer: analyzer,
			Logger:   logger,
		})

		attachProgressBars(st)

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed:  %s (%v)\n", path, err)
				continue
			}
			if _, err := eng.Load(cmd.Context(), filepath.Base(path), data); err != nil {
				fmt.Fprintf(os.Stderr, "failed:  %s (%v)\n", path, err)
			}
		}

		orch := queue.New(st, eng, logger)
		result, err := orch.ConvertAll(cmd.Context(), os.Stdout)
		if err != nil {
			return err
		}

		eng.WaitAnalyses()

		if err := writeOutputs(st.List(), outDir, asZip, page); err != nil {
			return err
		}

		if result.HasFailures() {
			return fmt.Errorf("%d of %d documents failed", result.Failed, result.Total())
		}
		return nil
	},
}

func init() {
	convertCmd.Flags().String("format", "", "output image format: png or jpeg (default png)")
	convertCmd.Flags().Int("dpi", 0, "output resolution in DPI, 72-600 (default 300)")
	convertCmd.Flags().String("out", "out", "output directory")
	convertCmd.Flags().Bool("zip", false, "write one zip archive per document instead of loose files")
	convertCmd.Flags().Int("page", 0, "export only this page of each document")
	convertCmd.Flags().Bool("analyze", false, "summarize each document's first page via the Claude API")
	convertCmd.Flags().String("model", "", "Claude model for --analyze")
	convertCmd.Flags().Int("max-retries", 0, "max retries for rate-limited API calls")

	rootCmd.AddCommand(convertCmd)
}

// settingsFromFlags resolves render settings from flags, falling back to
// config file keys render.format and render.dpi, then to defaults.
func settingsFromFlags(cmd *cobra.Command) (types.RenderSettings, error) {
	settings := types.DefaultRenderSettings()

	name, _ := cmd.Flags().GetString("format")
	if name == "" {
		name = viper.GetString("render.format")
	}
	if name != "" {
		format, err := types.ParseFormat(name)
		if err != nil {
			return types.RenderSettings{}, err
		}
		settings.Format = format
	}

	dpi, _ := cmd.Flags().GetInt("dpi")
	if dpi == 0 {
		dpi = viper.GetInt("render.dpi")
	}
	if dpi != 0 {
		settings.DPI = dpi
	}

	return settings, settings.Validate()
}

// analyzerFromFlags builds the Claude analyzer when --analyze (or the
// analysis.enabled config key) is set. Returns nil when analysis is off.
func analyzerFromFlags(cmd *cobra.Command) (engine.Analyzer, error) {
	enabled, _ := cmd.Flags().GetBool("analyze")
	if !enabled && !viper.GetBool("analysis.enabled") {
		return nil, nil
	}

	key := loadedSecrets[secrets.AnthropicKeyFile]
	if key == "" {
		key = secrets.AnthropicKey(".secrets/")
	}
	if key == "" {
		return nil, fmt.Errorf("--analyze requires an API key in .secrets/%s or ANTHROPIC_API_KEY", secrets.AnthropicKeyFile)
	}

	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = viper.GetString("analysis.model")
	}
	retries, _ := cmd.Flags().GetInt("max-retries")
	if retries == 0 {
		retries = viper.GetInt("analysis.max_retries")
	}

	return analyze.NewClient(types.AnalysisConfig{
		Enabled:    true,
		Model:      model,
		APIKey:     key,
		MaxRetries: retries,
	}), nil
}

// attachProgressBars renders one terminal progress bar per converting
// project, driven by store notifications.
func attachProgressBars(st *store.Store) {
	var mu sync.Mutex
	bars := make(map[string]*progressbar.ProgressBar)

	st.Subscribe(func(p types.Project) {
		mu.Lock()
		defer mu.Unlock()

		switch p.Status {
		case types.StatusConverting:
			bar, ok := bars[p.ID]
			if !ok {
				bar = progressbar.NewOptions(100,
					progressbar.OptionSetDescription(p.Metadata.Name),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
				)
				bars[p.ID] = bar
			}
			bar.Set(p.Progress)
		case types.StatusCompleted, types.StatusError:
			if bar, ok := bars[p.ID]; ok {
				if p.Status == types.StatusCompleted {
					bar.Finish()
				} else {
					bar.Exit()
					fmt.Fprintln(os.Stderr)
				}
				delete(bars, p.ID)
			}
		}
	})
}

// writeOutputs writes rendered pages and analysis summaries for every
// project that produced pages. Layout under outDir:
//
//	<name>_<dpi>dpi.zip          with --zip
//	<name>_images/Page_NN...     otherwise
//	<name>_Page_NN_...           with --page
//	<name>_analysis.yaml         when a summary exists
func writeOutputs(projects []types.Project, outDir string, asZip bool, page int) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	for _, p := range projects {
		if len(p.Pages) == 0 {
			continue
		}
		base := strings.TrimSuffix(p.Metadata.Name, filepath.Ext(p.Metadata.Name))

		switch {
		case page > 0:
			name, payload, err := export.ExportSingle(p, page)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed:  %s (%v)\n", p.Metadata.Name, err)
				continue
			}
			if err := os.WriteFile(filepath.Join(outDir, base+"_"+name), payload, 0o644); err != nil {
				return fmt.Errorf("writing page for %s: %w", p.Metadata.Name, err)
			}
		case asZip:
			a, err := export.ExportArchive(p)
			if err != nil {
				return fmt.Errorf("archiving %s: %w", p.Metadata.Name, err)
			}
			if err := os.WriteFile(filepath.Join(outDir, a.Name), a.Data, 0o644); err != nil {
				return fmt.Errorf("writing archive for %s: %w", p.Metadata.Name, err)
			}
		default:
			dir := filepath.Join(outDir, base+"_images")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
			for _, pg := range p.Pages {
				name, payload, err := export.ExportSingle(p, pg.PageNumber)
				if err != nil {
					return fmt.Errorf("exporting %s: %w", p.Metadata.Name, err)
				}
				if err := os.WriteFile(filepath.Join(dir, name), payload, 0o644); err != nil {
					return fmt.Errorf("writing page for %s: %w", p.Metadata.Name, err)
				}
			}
		}

		if p.Analysis != nil {
			data, err := yaml.Marshal(p.Analysis)
			if err != nil {
				return fmt.Errorf("marshaling analysis for %s: %w", p.Metadata.Name, err)
			}
			if err := os.WriteFile(filepath.Join(outDir, base+"_analysis.yaml"), data, 0o644); err != nil {
				return fmt.Errorf("writing analysis for %s: %w", p.Metadata.Name, err)
			}
		}
	}
	return nil
}
