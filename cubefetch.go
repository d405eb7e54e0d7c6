// Package cubefetch downloads cubes of satellite imagery: given a set of
// validated pixel requests it fetches each grid from the remote pixel
// service over a bounded worker pool, transparently quad-splitting any
// request the service refuses for size, and writes one GeoTIFF per
// request.
package cubefetch

import (
	"context"

	"cubefetch/config"
	"cubefetch/cube"
	"cubefetch/fetch"
	"cubefetch/request"
)

// Options tunes a Download call. The zero value uses the default
// settings, the default HTTP pixel client and the GeoTIFF writer.
type Options struct {
	// Settings override config.DefaultSettings().
	Settings *config.Settings

	// Service overrides the HTTP pixel client, e.g. for tests or for an
	// authorized transport.
	Service fetch.PixelService

	// Writer overrides the GeoTIFF raster writer.
	Writer cube.RasterWriter

	// OnLog receives human-readable progress messages.
	OnLog func(string)

	// OnProgress receives completion snapshots.
	OnProgress func(cube.Progress)
}

// Download fetches every request in the set into outputPath and returns
// the written file paths plus per-request errors, both in manifest row
// order. Individual request failures do not abort the run.
func Download(ctx context.Context, set *request.Set, outputPath string, opts Options) ([]string, []cube.RequestError) {
	settings := config.DefaultSettings()
	if opts.Settings != nil {
		copied := *opts.Settings
		settings = &copied
	}
	settings.Validate()

	svc := opts.Service
	if svc == nil {
		svc = fetch.NewClient(fetch.ClientOptions{
			Endpoint:  settings.Endpoint,
			Timeout:   settings.Timeout(),
			UserAgent: settings.UserAgent,
		})
	}

	executor := fetch.NewExecutor(svc, settings.MaxRetries, settings.MaxRequestBytes)
	coord := cube.NewCoordinator(executor, opts.Writer, settings.Workers, settings.MaxDeepLevel)
	coord.SetCallbacks(opts.OnLog, opts.OnProgress)

	return coord.Run(ctx, set, outputPath)
}
