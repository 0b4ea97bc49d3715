package main

import (
	"context"
	"fmt"

	"github.com/wondertwin-ai/clerkflow/internal/conformance"
	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
)

// cmdCheck runs the conformance checks against the configured Frontend API
// with a throwaway client, so the stored cookies are left alone.
func (a *app) cmdCheck(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", a.configPath, err)
	}
	fc, err := fapi.New(a.cfg.FrontendAPI, fapi.WithLogger(a.logger))
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Checking %s...\n\n", fc.BaseURL())
	report := conformance.Run(ctx, fc)
	for _, r := range report.Results {
		if r.Passed {
			fmt.Fprintf(a.out, "  PASS  %s\n", r.Name)
		} else {
			fmt.Fprintf(a.out, "  FAIL  %s\n", r.Name)
			fmt.Fprintf(a.out, "        %s\n", r.Detail)
		}
	}
	fmt.Fprintf(a.out, "\nResults: %d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Passed+report.Failed)

	if report.Failed > 0 {
		return fmt.Errorf("%d check(s) failed", report.Failed)
	}
	return nil
}
