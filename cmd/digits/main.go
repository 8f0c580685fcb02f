// Command digits trains the handwritten-digit CNN on MNIST.
//
// Usage:
//
//	digits [flags]            train with the given flags
//	digits -config run.yaml   train with settings from a YAML file
//	digits version            print the version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"k8s.io/klog/v2"

	"github.com/born-ml/digits/internal/config"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("digits %s\n", version)
		return
	}

	klog.InitFlags(nil)
	configPath := flag.String("config", "", "YAML file with run settings; explicit flags override it")
	config.Default().BindFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(*configPath, flag.CommandLine)
	if err != nil {
		klog.Exitf("digits: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		klog.Errorf("digits: %+v", err)
		klog.Flush()
		stop()
		os.Exit(1)
	}
	klog.Flush()
}
