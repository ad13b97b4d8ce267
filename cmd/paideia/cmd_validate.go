package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check all configuration documents without running anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot()
		if err != nil {
			return err
		}
		fmt.Printf("configuration valid: %d scenarios, %d profiles, rubric %q (%d dimensions)\n",
			len(snap.Scenarios), len(snap.Profiles), snap.Rubric.Name, len(snap.Rubric.Dimensions))
		return nil
	},
}
