package sources

import (
	"context"
	"fmt"

	"migrate/internal/assets"
	"migrate/internal/document"
	"migrate/internal/fetch"
	"migrate/internal/filecache"
	"migrate/internal/job"
	"migrate/internal/linkfixer"
	"migrate/internal/logging"
	"migrate/internal/mobiledoc"
	"migrate/internal/services"
	"migrate/internal/stage"
	"migrate/internal/webscraper"
	"migrate/internal/workflow"
)

// Stage titles shared by every source.
const (
	TitleWebScraper = "Fetch missing data via WebScraper"
	TitleLinkMap    = "Build Link Map"
	TitleFormat     = "Format data as Ghost JSON"
	TitleImages     = "Fetch images via ImageScraper"
	TitleMedia      = "Fetch media via MediaScraper"
	TitleLinks      = "Update links in content via LinkFixer"
	TitleMobiledoc  = "Convert HTML -> MobileDoc"
	TitleWrite      = "Write Ghost import JSON File"
	TitleSizes      = "Report file sizes"
	TitleZip        = "Write Ghost import zip"
)

type ingestFunc func(job.Options) (*document.Document, error)

type scrapeConfigFunc func(job.Options) webscraper.Config

// initStage creates the job workspace and every collaborator handle.
func initStage(title, kind string, env Env, scrape scrapeConfigFunc) workflow.Stage {
	return workflow.Stage{
		Title:       title,
		Criticality: stage.Fatal,
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			opts := jc.Options
			logger := env.logger().With(logging.String(logging.FieldJobID, jc.ID))
			cache, err := filecache.New(opts.CacheDir, opts.Source, kind, logger)
			if err != nil {
				return stage.Outcome{}, err
			}
			if err := cache.Lock(); err != nil {
				return stage.Outcome{}, err
			}
			if err := cache.Touch(jc.ID); err != nil {
				logger.Warn("workspace metadata not updated",
					logging.Error(err),
					logging.String(logging.FieldEventType, "workspace_touch_failed"),
				)
			}
			client := env.Client
			if client == nil {
				client = fetch.New(opts.UserAgent, opts.RequestTimeout)
			}
			jc.Handles = job.Handles{
				FileCache:    cache,
				WebScraper:   webscraper.New(cache, scrape(opts), client, logger),
				ImageScraper: assets.NewImages(cache, client, logger),
				MediaScraper: assets.NewMedia(cache, client, opts.SizeLimitBytes(), logger),
				LinkFixer:    linkfixer.New(logger),
			}
			logger.Info("workspace initialized",
				logging.String("workspace", cache.Dir()),
				logging.String(logging.FieldEventType, "workspace_ready"),
			)
			return stage.Mutated(), nil
		},
	}
}

// readStage ingests the export and keeps a copy of the raw data in the workspace.
func readStage(title, tmpName string, ingest ingestFunc) workflow.Stage {
	return workflow.Stage{
		Title:       title,
		Criticality: stage.Fatal,
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			cache, err := requireCache(jc)
			if err != nil {
				return stage.Outcome{}, err
			}
			doc, err := ingest(jc.Options)
			if err != nil {
				return stage.Outcome{}, err
			}
			jc.Document = doc
			if _, err := cache.WriteTmpFile(tmpName, doc); err != nil {
				return stage.Outcome{}, err
			}
			return stage.Mutated(), nil
		},
	}
}

// webStage hydrates posts from their live pages. concurrency 0 uses the job default.
func webStage(concurrency int) workflow.Stage {
	return workflow.Stage{
		Title:       TitleWebScraper,
		Criticality: stage.Recoverable,
		Skip: func(jc *job.Context) bool {
			return jc.Options.URL == "" || !jc.Options.Scrape.Has(job.CategoryWeb)
		},
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			if err := requireDocument(jc); err != nil {
				return stage.Outcome{}, err
			}
			if jc.Handles.WebScraper == nil {
				return stage.Outcome{}, missingHandle("web scraper")
			}
			return stage.Expanded(jc.Handles.WebScraper.Hydrate(jc.Document), concurrency), nil
		},
	}
}

func linkMapStage() workflow.Stage {
	return workflow.Stage{
		Title:       TitleLinkMap,
		Criticality: stage.Fatal,
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			if err := requireDocument(jc); err != nil {
				return stage.Outcome{}, err
			}
			if jc.Handles.LinkFixer == nil {
				return stage.Outcome{}, missingHandle("link fixer")
			}
			if err := jc.Handles.LinkFixer.BuildMap(jc.Document, jc.Options.URL); err != nil {
				return stage.Outcome{}, err
			}
			return stage.Mutated(), nil
		},
	}
}

func formatStage(env Env) workflow.Stage {
	return workflow.Stage{
		Title:       TitleFormat,
		Criticality: stage.Fatal,
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			if err := requireDocument(jc); err != nil {
				return stage.Outcome{}, err
			}
			if err := document.Normalize(jc.Document, document.NormalizeOptions{Now: env.Now}); err != nil {
				return stage.Outcome{}, err
			}
			return stage.Mutated(), nil
		},
	}
}

func assetStage(title string, category job.Category, scraper func(job.Handles) *assets.Scraper) workflow.Stage {
	return workflow.Stage{
		Title:       title,
		Criticality: stage.Recoverable,
		Skip: func(jc *job.Context) bool {
			return !jc.Options.Scrape.Has(category)
		},
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			if err := requireDocument(jc); err != nil {
				return stage.Outcome{}, err
			}
			s := scraper(jc.Handles)
			if s == nil {
				return stage.Outcome{}, missingHandle(string(category) + " scraper")
			}
			return stage.Expanded(s.Fetch(jc.Document, jc.Options.URL), 0), nil
		},
	}
}

func imagesStage() workflow.Stage {
	return assetStage(TitleImages, job.CategoryImg, func(h job.Handles) *assets.Scraper { return h.ImageScraper })
}

func mediaStage() workflow.Stage {
	return assetStage(TitleMedia, job.CategoryMedia, func(h job.Handles) *assets.Scraper { return h.MediaScraper })
}

func linksStage() workflow.Stage {
	return workflow.Stage{
		Title:       TitleLinks,
		Criticality: stage.Recoverable,
		Skip: func(jc *job.Context) bool {
			return !jc.Options.FixLinks
		},
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			if err := requireDocument(jc); err != nil {
				return stage.Outcome{}, err
			}
			if jc.Handles.LinkFixer == nil {
				return stage.Outcome{}, missingHandle("link fixer")
			}
			return stage.Expanded(jc.Handles.LinkFixer.Fix(jc.Document), 0), nil
		},
	}
}

func mobiledocStage() workflow.Stage {
	return workflow.Stage{
		Title:       TitleMobiledoc,
		Criticality: stage.Fatal,
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			if err := requireDocument(jc); err != nil {
				return stage.Outcome{}, err
			}
			batch, err := mobiledoc.Convert(jc.Document)
			if err != nil {
				return stage.Outcome{}, err
			}
			return stage.Expanded(batch, 0), nil
		},
	}
}

// writeStage renders the import JSON and the error log collected so far.
func writeStage(env Env) workflow.Stage {
	return workflow.Stage{
		Title:       TitleWrite,
		Criticality: stage.Fatal,
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			cache, err := requireCache(jc)
			if err != nil {
				return stage.Outcome{}, err
			}
			if err := requireDocument(jc); err != nil {
				return stage.Outcome{}, err
			}
			payload, err := jc.Document.MarshalBundle()
			if err != nil {
				return stage.Outcome{}, err
			}
			bundlePath, err := cache.WriteImportBundle(payload)
			if err != nil {
				return stage.Outcome{}, err
			}
			jc.BundlePath = bundlePath

			errorLog, err := job.MarshalErrorLog(jc.Errors())
			if err != nil {
				return stage.Outcome{}, services.Wrap(services.ErrValidation, "sources", "write error log", "encode", err)
			}
			logPath, err := cache.WriteErrorLog(errorLog, env.now())
			if err != nil {
				return stage.Outcome{}, err
			}
			jc.ErrorLogPath = logPath
			return stage.Mutated(), nil
		},
	}
}

// sizeReportStage lists the media left out for exceeding the size limit.
func sizeReportStage() workflow.Stage {
	return workflow.Stage{
		Title:       TitleSizes,
		Criticality: stage.Fatal,
		Skip: func(jc *job.Context) bool {
			return jc.Options.SizeLimit <= 0
		},
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			cache, err := requireCache(jc)
			if err != nil {
				return stage.Outcome{}, err
			}
			media := jc.Handles.MediaScraper
			if media == nil {
				return stage.Outcome{}, missingHandle("media scraper")
			}
			path, err := cache.WriteSizeReport(string(media.Kind()), media.SizeReport(), media.SizeLimit())
			if err != nil {
				return stage.Outcome{}, err
			}
			jc.SizeReports[string(media.Kind())] = path
			return stage.Mutated(), nil
		},
	}
}

func zipStage(env Env) workflow.Stage {
	return workflow.Stage{
		Title:       TitleZip,
		Criticality: stage.Fatal,
		Skip: func(jc *job.Context) bool {
			return !jc.Options.Zip
		},
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			cache, err := requireCache(jc)
			if err != nil {
				return stage.Outcome{}, err
			}
			path, err := cache.PackageArchive(jc.Options.OutputDir, env.now())
			if err != nil {
				return stage.Outcome{}, err
			}
			jc.OutputArtifactPath = path
			return stage.Mutated(), nil
		},
	}
}

func requireCache(jc *job.Context) (*filecache.Cache, error) {
	if jc.Handles.FileCache == nil {
		return nil, missingHandle("file cache")
	}
	return jc.Handles.FileCache, nil
}

func requireDocument(jc *job.Context) error {
	if jc.Document == nil {
		return services.Wrap(services.ErrValidation, "sources", "stage", "no document has been read", nil)
	}
	return nil
}

func missingHandle(name string) error {
	return services.Wrap(services.ErrValidation, "sources", "stage", fmt.Sprintf("%s is not initialized", name), nil)
}
