package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkParsed bool

var checkCmd = &cobra.Command{
	Use:   "check ACCESSION...",
	Short: "Report which filings the lake already holds",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		checker, err := a.existence(ctx)
		if err != nil {
			return err
		}

		label := "known"
		check := checker.CheckExisting
		if checkParsed {
			label = "parsed"
			check = checker.CheckParsed
		}
		found, err := check(ctx, args)
		if err != nil {
			return err
		}
		fmt.Print(renderCheck(label, args, found))
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkParsed, "parsed", false, "Only count filings that reached PARSED")
	rootCmd.AddCommand(checkCmd)
}
