package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ternarybob/credsync/internal/models"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLinks(state models.LinkState) error {
	if jsonOutput {
		return printJSON(state)
	}
	if len(state) == 0 {
		fmt.Println("No linked platforms")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tAUTH METHOD")
	for _, p := range models.SortedPlatforms(state) {
		fmt.Fprintf(w, "%s\t%d\n", p, state[p])
	}
	return w.Flush()
}

func printMethods(methods []models.RemoteAuthMethod, state models.LinkState) error {
	if jsonOutput {
		return printJSON(methods)
	}
	if len(methods) == 0 {
		fmt.Println("No auth methods")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLATFORM\tNICKNAME\tACTIVE\tLINKED\tVALUE\tUPDATED")
	for _, m := range methods {
		linked := ""
		if id, ok := state[m.Platform]; ok && id == m.ID {
			linked = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\t%s\n",
			m.ID, m.Platform, m.Nickname(), m.Active, linked,
			models.Obfuscate(m.Value), m.Updated().Format(time.DateTime))
	}
	return w.Flush()
}

func printSyncResult(result models.SyncResult) error {
	if jsonOutput {
		return printJSON(result)
	}

	switch {
	case result.Success && result.Created:
		fmt.Printf("%s: created auth method %d\n", result.Platform, result.AuthMethodID)
	case result.Success:
		fmt.Printf("%s: synced to auth method %d\n", result.Platform, result.AuthMethodID)
	default:
		fmt.Printf("%s: %s (%s)\n", result.Platform, result.Message, result.Outcome)
	}
	if result.Success && result.Message != "" {
		fmt.Println(result.Message)
	}
	return nil
}
