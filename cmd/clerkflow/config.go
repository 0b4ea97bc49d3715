package main

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/wondertwin-ai/clerkflow/internal/config"
)

// cmdConfig reads and edits the file on disk. Environment and flag
// overrides are ignored so that they never end up persisted.
func (a *app) cmdConfig(args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	cfg, err := config.LoadFrom(a.configPath)
	if err != nil {
		return err
	}

	switch sub {
	case "show":
		for _, key := range config.Keys() {
			v, _ := cfg.Get(key)
			fmt.Fprintf(a.out, "%s: %s\n", key, v)
		}
		return nil
	case "get":
		if len(args) != 1 {
			return errors.New("usage: clerkflow config get <key>")
		}
		v, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, v)
		return nil
	case "set":
		if len(args) != 2 {
			return errors.New("usage: clerkflow config set <key> <value>")
		}
		key, value := args[0], args[1]
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		// Only the changed key is checked; a half-written file is allowed.
		var verrs validation.Errors
		if err := cfg.Validate(); errors.As(err, &verrs) {
			if ferr, ok := verrs[key]; ok {
				return fmt.Errorf("%s: %w", key, ferr)
			}
		}
		if err := config.SaveTo(a.configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s = %s\n", key, value)
		return nil
	case "path":
		fmt.Fprintln(a.out, a.configPath)
		return nil
	default:
		return fmt.Errorf("unknown config command %q", sub)
	}
}
