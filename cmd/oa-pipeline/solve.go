package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	"github.com/hochfrequenz/oa-pipeline/internal/solver"
	"github.com/spf13/cobra"
)

var (
	solveLanguage string
	solveQuiet    bool
)

func init() {
	solveCmd := &cobra.Command{
		Use:   "solve IMAGE...",
		Short: "Solve a problem from screenshots",
		Long: `Extract the problem statement from one or more screenshots, then
generate a solution in the requested language.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSolve,
	}
	solveCmd.Flags().StringVarP(&solveLanguage, "language", "l", solver.DefaultLanguage, "target language")
	solveCmd.Flags().BoolVarP(&solveQuiet, "quiet", "q", false, "print only the solution code")
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Backend.GenerateURL == "" {
		return fmt.Errorf("invalid config: backend.generate_url is required")
	}

	images, err := solver.LoadImages(args)
	if err != nil {
		return err
	}

	var opts []solver.Option
	if !solveQuiet {
		opts = append(opts, solver.WithHooks(solver.Hooks{
			OnLog: func(e domain.LogEntry) { fmt.Println(e.String()) },
		}))
	}
	wf := a.newWorkflow(opts...)

	res, err := wf.Run(cmd.Context(), images, solveLanguage)
	if err != nil {
		return err
	}

	if solveQuiet {
		fmt.Println(res.SolutionCode)
		return nil
	}

	fmt.Printf("\n== Problem ==\n%s\n", res.ProblemStatement)
	fmt.Printf("\n== %s solution ==\n%s\n", res.Language, res.SolutionCode)
	fmt.Printf("\nExtraction %.2fs, solution %.2fs", res.ExtractDuration.Seconds(), res.SolveDuration.Seconds())
	if res.Usage != nil {
		fmt.Printf(", %s tokens", humanize.Comma(int64(res.Usage.TotalTokens)))
	}
	fmt.Println()
	return nil
}
