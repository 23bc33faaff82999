package sources

import (
	"migrate/internal/document"
	"migrate/internal/ingest/jekyllexport"
	"migrate/internal/job"
	"migrate/internal/webscraper"
	"migrate/internal/workflow"
)

// KindJekyll is the zipped static-site export.
const KindJekyll = "jekyll"

// Jekyll returns the static-site pipeline.
func Jekyll() Definition {
	return Definition{
		Kind:     KindJekyll,
		Title:    "Jekyll export zip",
		NeedsURL: true,
		Stages: func(env Env) []workflow.Stage {
			return []workflow.Stage{
				initStage("Initialising Workspace", KindJekyll, env, JekyllScrapeConfig),
				readStage("Read Jekyll export zip", "jekyll-export-data.json", readJekyll),
				webStage(0),
				linkMapStage(),
				formatStage(env),
				imagesStage(),
				linksStage(),
				mobiledocStage(),
				writeStage(env),
				zipStage(env),
			}
		},
	}
}

func readJekyll(opts job.Options) (*document.Document, error) {
	return jekyllexport.Ingest(jekyllexport.Options{Source: opts.Source, URL: opts.URL})
}

// JekyllScrapeConfig builds the scrape configuration for one job. Social
// images lose their -WxH size suffix and, when requested, the og:image
// becomes the feature image.
func JekyllScrapeConfig(opts job.Options) webscraper.Config {
	promote := opts.FeatureImage == job.FeatureImageOG
	return webscraper.Config{
		Rules: webscraper.MetaRules(),
		PostProcess: func(res *webscraper.Result) {
			for _, field := range []webscraper.Field{webscraper.FieldOGImage, webscraper.FieldTwitterImage} {
				if value, ok := res.Fields[field]; ok {
					res.Fields[field] = webscraper.StripSizeSuffix(value)
				}
			}
			if og := res.Fields[webscraper.FieldOGImage]; promote && og != "" {
				res.Fields[webscraper.FieldFeatureImage] = og
			}
		},
	}
}
