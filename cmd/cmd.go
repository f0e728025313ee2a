// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// downloadCommand fetches a video or playlist into the library.
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "Download a video or playlist as audio",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "url",
			},
		},
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Number of parallel downloads (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Bypass the metadata cache for this run",
			},
			&cli.BoolFlag{
				Name:  "skip-m3u",
				Usage: "Do not rewrite the playlist M3U after the run",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Action: r.Download,
	}
}

// reconcileCommand replays deferred segment-removal work.
func reconcileCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Retry deferred segment removal from sidecar records",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Action: r.Reconcile,
	}
}

// playlistCommand handles M3U maintenance.
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"m3u"},
		Usage:   "Playlist file operations",
		Commands: []*cli.Command{
			{
				Name:  "rewrite",
				Usage: "Rebuild the M3U for one album directory",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "dir",
					},
				},
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "url",
						Usage: "Playlist URL to record in the M3U header",
					},
				},
				Action: r.PlaylistRewrite,
			},
			{
				Name:  "rewrite-all",
				Usage: "Rebuild the M3U for every album directory in the library",
				Flags: []cli.Flag{
					configFlag(),
				},
				Action: r.PlaylistRewriteAll,
			},
		},
	}
}

// cacheCommand handles metadata cache maintenance.
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Metadata cache operations",
		Commands: []*cli.Command{
			{
				Name:  "purge",
				Usage: "Delete all metadata cache entries",
				Flags: []cli.Flag{
					configFlag(),
				},
				Action: r.CachePurge,
			},
		},
	}
}

// configCommand handles configuration file management.
func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration file operations",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a starter configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Where to write the file",
						Value:   "config.toml",
					},
				},
				Action: r.ConfigInit,
			},
		},
	}
}
