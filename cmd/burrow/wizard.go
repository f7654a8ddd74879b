package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"burrow/internal/policy"
	"burrow/internal/profile"
	"burrow/internal/validate"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: name → network → filesystem → limits → save profile",
		Long:  "Guides you through creating a sandbox policy profile step by step. The profile is written to the profile directory as <name>.yaml.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfg := loadOrDefaults()
	store := profile.NewStore(cfg.General.ProfilesDir, logger)
	if err := os.MkdirAll(store.Dir(), 0o755); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	p := policy.Default()
	errs := validate.NewErrors()

	// Step 1: Name
	fmt.Println("\n--- Step 1: Profile name ---")
	for {
		fmt.Fprint(os.Stdout, "Name for the new profile")
		raw, err := prompt("")
		if err != nil {
			return err
		}
		name, ok := validate.Name(errs, raw)
		if !ok {
			fmt.Fprintf(os.Stdout, "  %s\n", errs.Get(validate.FieldName))
			continue
		}
		if _, err := os.Stat(store.Path(name)); err == nil {
			fmt.Fprintf(os.Stdout, "  Profile %q already exists at %s\n", name, store.Path(name))
			continue
		}
		p.Name = name
		break
	}

	// Step 2: Network
	fmt.Println("\n--- Step 2: Network access ---")
	levels := policy.NetworkLevels()
	for i, l := range levels {
		fmt.Fprintf(os.Stdout, "  %d) %s\n", i+1, l)
	}
	fmt.Fprintf(os.Stdout, "Choose network level (1-%d)", len(levels))
	choice, err := prompt("1")
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(levels) {
		idx = 1
	}
	p.Capabilities.Network = levels[idx-1]
	fmt.Fprintf(os.Stdout, "  Using network level: %s\n", p.Capabilities.Network)

	// Step 3: Filesystem capabilities
	fmt.Println("\n--- Step 3: Filesystem capabilities ---")
	for _, f := range policy.FSFlags() {
		fmt.Fprintf(os.Stdout, "Grant %s access? (y/N)", f)
		ans, err := prompt("n")
		if err != nil {
			return err
		}
		if strings.EqualFold(ans, "y") || strings.EqualFold(ans, "yes") {
			p.Capabilities.ToggleFlag(f)
		}
	}

	// Step 4: Paths
	fmt.Println("\n--- Step 4: Paths ---")
	allowed, err := collectPaths(prompt, errs, validate.AllowedPaths, "Allowed path (empty to finish)")
	if err != nil {
		return err
	}
	p.Capabilities.AllowedPaths = allowed
	denied, err := collectPaths(prompt, errs, validate.DeniedPaths, "Denied path (empty to finish)")
	if err != nil {
		return err
	}
	p.Capabilities.DeniedPaths = denied

	// Step 5: Resource limits
	fmt.Println("\n--- Step 5: Resource limits (empty = unlimited) ---")
	fmt.Fprint(os.Stdout, "Memory limit in MB")
	for {
		raw, err := prompt("")
		if err != nil {
			return err
		}
		limit, ok := validate.Memory(errs, raw, validate.UnitMB)
		if !ok {
			fmt.Fprintf(os.Stdout, "  %s\nMemory limit in MB", errs.Get(validate.FieldMemory))
			continue
		}
		p.Capabilities.Limits.MemoryBytes = limit
		break
	}
	fmt.Fprint(os.Stdout, "Max process count")
	for {
		raw, err := prompt("")
		if err != nil {
			return err
		}
		if raw == "" {
			break
		}
		v, ok := validate.MaxProcesses(errs, raw)
		if !ok {
			fmt.Fprintf(os.Stdout, "  %s\nMax process count", errs.Get(validate.FieldMaxProcesses))
			continue
		}
		p.Capabilities.Limits.MaxProcesses = &v
		break
	}
	fmt.Fprint(os.Stdout, "CPU limit")
	for {
		raw, err := prompt("")
		if err != nil {
			return err
		}
		if raw == "" {
			break
		}
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || n == 0 {
			fmt.Fprint(os.Stdout, "  Must be a positive number\nCPU limit")
			continue
		}
		v := uint32(n)
		p.Capabilities.Limits.CPUs = &v
		break
	}

	// Step 6: Description
	fmt.Println("\n--- Step 6: Description ---")
	fmt.Fprint(os.Stdout, "Short description (optional)")
	desc, err := prompt("")
	if err != nil {
		return err
	}
	p.Description = desc

	// Summary and save
	fmt.Printf("\nProfile %q:\n", p.Name)
	printProfileDetail(os.Stdout, p)
	fmt.Fprint(os.Stdout, "Save? (Y/n)")
	ans, err := prompt("y")
	if err != nil {
		return err
	}
	if !strings.EqualFold(ans, "y") && !strings.EqualFold(ans, "yes") {
		fmt.Println("Aborted, nothing written.")
		return nil
	}

	if err := store.Save(p); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nProfile saved to %s\n", store.Path(p.Name))
	fmt.Println("Next: run 'burrow shell' to edit profiles or launch sandboxes.")
	return nil
}

// collectPaths prompts until an empty line, validating each entry.
func collectPaths(prompt func(string) (string, error), errs validate.Errors, list validate.PathList, label string) ([]string, error) {
	var paths []string
	for {
		fmt.Fprint(os.Stdout, label)
		raw, err := prompt("")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(raw) == "" {
			return paths, nil
		}
		path, ok := validate.Path(errs, list, raw)
		if !ok {
			fmt.Fprintf(os.Stdout, "  %s\n", errs.Get(list.ErrorKey()))
			continue
		}
		paths = append(paths, path)
	}
}
