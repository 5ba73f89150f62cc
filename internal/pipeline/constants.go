package pipeline

// PipelineName identifies the DAG in run records and logs.
const PipelineName = "audible_pipeline"

// Task identifiers, as registered with the external scheduler.
const (
	TaskDBIngest        = "db_ingest"
	TaskAPICall         = "api_call"
	TaskConvertCurrency = "convert_currency"
)

// Artifact names, relative to the artifact store.
const (
	ArtifactTransactions = "transaction.csv"
	ArtifactRates        = "conversion_rate_from_api.csv"
	ArtifactResult       = "result.csv"
)

// Column names the stages depend on. Every other column passes through.
const (
	ColBookID        = "book_id"
	ColCatalogBookID = "Book_ID"
	ColTimestamp     = "timestamp"
	ColPrice         = "Price"
	ColDate          = "date"
	ColRate          = "conversion_rate"
)

// Defaults for NormalizeOptions.
const (
	DefaultCurrencySymbol = "$"
	DefaultTargetColumn   = "THBPrice"
)
