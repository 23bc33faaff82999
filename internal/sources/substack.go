package sources

import (
	"regexp"

	"migrate/internal/document"
	"migrate/internal/ingest/csvexport"
	"migrate/internal/job"
	"migrate/internal/webscraper"
	"migrate/internal/workflow"
)

// KindSubstack is the CSV export.
const KindSubstack = "substack"

// descriptionLimit is the longest description kept from a scraped page.
const descriptionLimit = 499

var labelPattern = regexp.MustCompile(`/s/([a-zA-Z0-9_-]+)`)

// Substack returns the CSV export pipeline. Pages are scraped one at a time.
func Substack() Definition {
	return Definition{
		Kind:  KindSubstack,
		Title: "Substack CSV export",
		Stages: func(env Env) []workflow.Stage {
			return []workflow.Stage{
				initStage("Initializing", KindSubstack, env, SubstackScrapeConfig),
				readStage("Read csv file", "csv-export-data.json", readSubstack),
				webStage(1),
				linkMapStage(),
				formatStage(env),
				imagesStage(),
				mediaStage(),
				linksStage(),
				mobiledocStage(),
				writeStage(env),
				sizeReportStage(),
				zipStage(env),
			}
		},
	}
}

func readSubstack(opts job.Options) (*document.Document, error) {
	return csvexport.Ingest(csvexport.Options{Source: opts.Source, URL: opts.URL})
}

// SubstackScrapeConfig builds the scrape configuration for one job. Drafts
// are never scraped.
func SubstackScrapeConfig(opts job.Options) webscraper.Config {
	rules := webscraper.MetaRules()
	for i := range rules {
		switch rules[i].Field {
		case webscraper.FieldMetaDescription, webscraper.FieldOGDescription, webscraper.FieldTwitterDescription:
			rules[i].Convert = webscraper.Truncate(descriptionLimit)
		}
	}
	if opts.UseMetaImage {
		rules = append(rules, webscraper.FeatureImageRule())
	}
	cfg := webscraper.Config{
		Rules: rules,
		Labels: &webscraper.LabelRule{
			Selector: ".post-header > .post-label > a",
			Pattern:  labelPattern,
		},
		Skip: func(post *document.Post) bool {
			return post.Data.Status == "draft"
		},
	}
	if opts.UseMetaAuthor {
		cfg.AuthorsSelector = `script[type="application/ld+json"]`
	}
	return cfg
}
