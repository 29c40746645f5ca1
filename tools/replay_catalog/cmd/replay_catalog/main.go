package main

import (
	"flag"
	"fmt"
	"os"

	"ballarena/server/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", "replays", "directory containing replay bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		if entry.Header == nil {
			fmt.Printf("%s (recording)\n", entry.BundlePath)
			continue
		}
		h := entry.Header
		fmt.Printf("%s (schema %d)\n", entry.BundlePath, h.SchemaVersion)
		fmt.Printf("  arena: %s\n", h.ArenaID)
		fmt.Printf("  seed: %d  policy: %s  dots: %d\n", h.Metadata.Seed, h.Metadata.ConsumePolicy, h.Metadata.DotCount)
		fmt.Printf("  ticks: %d-%d  frames: %d  events: %d\n", h.FirstTick, h.LastTick, h.Frames, h.Events)
		fmt.Printf("  sealed: %s\n", h.SealedAt)
	}
}
