// configgen writes or validates receiverctl configuration files.
package main

import (
	"bytes"
	"flag"
	"log"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/Pentagram-Sofware/udp-video-receiver/internal/config"
)

func main() {
	output := flag.String("output", "receiver.toml", "output path for the config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "receiver.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite an existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.Load(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s", *input)
		return
	}

	if !*force {
		if _, err := os.Stat(*output); err == nil {
			log.Fatalf("%s already exists (use -force to overwrite)", *output)
		}
	}

	cfg := config.Default()
	cfg.Producer.Host = "192.168.1.10"

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*output, buf.Bytes(), 0o644); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote config template to %s", *output)
}
