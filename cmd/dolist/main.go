// Command dolist manages todos from the terminal.
//
//	dolist login <token>
//	dolist ls
//	dolist add "buy milk"
//	dolist tui
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/rjsadow/dolist/internal/cli"
	"github.com/rjsadow/dolist/internal/todos"
)

func main() {
	defaultPath, _ := cli.DefaultConfigPath()

	group := flag.Bool("group", false, "Group listed todos by pending and done")
	configPath := flag.String("config", defaultPath, "Path to the config file")
	flag.Usage = func() { cli.PrintHelp(os.Stderr) }
	flag.Parse()

	settings, err := cli.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dolist: %v\n", err)
		os.Exit(2)
	}

	r := &cli.Runner{
		ConfigPath: *configPath,
		Out:        os.Stdout,
		Err:        os.Stderr,
		Opts:       cli.Options{Group: *group},
	}
	if settings.Token != "" {
		r.Client, err = todos.NewClient(todos.StaticToken(settings.Token), todos.Config{
			BaseURL: settings.APIURL,
			Timeout: settings.Timeout,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "dolist: %v\n", err)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := r.Run(ctx, flag.Args())
	stop()
	os.Exit(code)
}
