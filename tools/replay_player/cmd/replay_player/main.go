package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"ballarena/server/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a replay bundle directory or its manifest.json")
	from := flag.Uint64("from", 0, "first tick to include")
	to := flag.Uint64("to", 0, "last tick to include (0 for the end of the bundle)")
	full := flag.Bool("snapshots", false, "include full snapshots in every frame")
	follow := flag.Uint64("follow", 0, "player id to track across frames")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	playback, err := replayplayer.ReplayBundle(*path, replayplayer.Options{From: *from, To: *to, FullSnapshots: *full, Follow: *follow})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(playback); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
