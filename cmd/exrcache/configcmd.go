package main

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

func configCmd() *Command {
	var save string
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&save, "save", "", "write the effective configuration to this file")

	return &Command{
		Flags: fs,
		Usage: "config [--save <file>]",
		Short: "Print the effective configuration",
		Long: "Print the configuration after defaults, the config file and EXRCACHE_*\n" +
			"environment variables are applied, optionally saving it as YAML.",
		Exec: func(_ context.Context, e *env, _ []string) error {
			if save != "" {
				if err := e.cfg.SaveToFile(save); err != nil {
					return err
				}
				fmt.Fprintln(e.out, "saved", save)
				return nil
			}
			data, err := yaml.Marshal(e.cfg)
			if err != nil {
				return err
			}
			_, err = e.out.Write(data)
			return err
		},
	}
}
