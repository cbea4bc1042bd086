package store

// SchemaVersion is bumped whenever Schema changes in a way that is not
// purely additive. New refuses to open a database stamped with a
// different version.
const SchemaVersion = 1

// Schema creates every table named in spec.md §3 and §6.1. Foreign keys
// are declared ON DELETE CASCADE so that deleting a Source cascades to
// every dependent row, per invariant 1.
const Schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	source_id            TEXT PRIMARY KEY,
	type                 TEXT NOT NULL,
	url                  TEXT,
	file_path            TEXT,
	title                TEXT,
	duration_seconds      REAL,
	uploader             TEXT,
	upload_date          TEXT,
	description          TEXT,
	tags                 TEXT,
	chapters             TEXT,
	thumbnail_local_path TEXT,
	checksum             TEXT,
	audio_file_path      TEXT,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS segments (
	source_id  TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
	segment_id INTEGER NOT NULL,
	t0         REAL NOT NULL,
	t1         REAL NOT NULL,
	text       TEXT NOT NULL,
	PRIMARY KEY (source_id, segment_id)
);

CREATE TABLE IF NOT EXISTS source_stage_status (
	source_id        TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
	stage            TEXT NOT NULL,
	status           TEXT NOT NULL,
	progress_percent REAL NOT NULL DEFAULT 0,
	worker_id        TEXT,
	metadata         TEXT,
	last_updated     TEXT NOT NULL,
	PRIMARY KEY (source_id, stage)
);

CREATE TABLE IF NOT EXISTS claims (
	claim_id              TEXT PRIMARY KEY,
	source_id             TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
	canonical_text        TEXT NOT NULL,
	type                  TEXT NOT NULL,
	speaker               TEXT,
	epistemic_value       REAL,
	actionability         REAL,
	novelty               REAL,
	verifiability         REAL,
	understandability     REAL,
	temporal_stability    REAL,
	scope                 REAL,
	profile_scores        TEXT,
	best_profile          TEXT,
	importance            REAL,
	tier                  TEXT,
	temporality           TEXT,
	temporality_confidence REAL,
	sequence              INTEGER NOT NULL,
	created_at            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_source ON claims(source_id);

CREATE TABLE IF NOT EXISTS evidence_spans (
	claim_id     TEXT NOT NULL REFERENCES claims(claim_id) ON DELETE CASCADE,
	sequence     INTEGER NOT NULL,
	t0           REAL NOT NULL,
	t1           REAL NOT NULL,
	quote        TEXT NOT NULL,
	context_text TEXT,
	context_type TEXT NOT NULL,
	PRIMARY KEY (claim_id, sequence)
);

CREATE TABLE IF NOT EXISTS entities (
	entity_id     TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
	entity_type   TEXT NOT NULL, -- 'jargon' | 'person' | 'mental_model'
	name          TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	definition    TEXT,
	domain        TEXT,
	aliases       TEXT,
	attributed_to TEXT, -- introduced_by | mentioned_by | advocated_by, depending on entity_type
	quality_score REAL,
	created_at    TEXT NOT NULL,
	UNIQUE (source_id, entity_type, normalized_name)
);

CREATE INDEX IF NOT EXISTS idx_entities_source_type ON entities(source_id, entity_type);

CREATE TABLE IF NOT EXISTS entity_evidence (
	entity_id    TEXT NOT NULL REFERENCES entities(entity_id) ON DELETE CASCADE,
	sequence     INTEGER NOT NULL,
	claim_id     TEXT,
	t0           REAL NOT NULL,
	t1           REAL NOT NULL,
	quote        TEXT NOT NULL,
	context_text TEXT,
	context_type TEXT NOT NULL,
	PRIMARY KEY (entity_id, sequence)
);

CREATE TABLE IF NOT EXISTS claim_relations (
	relation_id    TEXT PRIMARY KEY,
	from_claim_id  TEXT NOT NULL REFERENCES claims(claim_id) ON DELETE CASCADE,
	to_claim_id    TEXT NOT NULL REFERENCES claims(claim_id) ON DELETE CASCADE,
	relation_type  TEXT NOT NULL, -- 'supports' | 'contradicts' | 'refines'
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	job_id       TEXT PRIMARY KEY,
	job_type     TEXT NOT NULL,
	input_id     TEXT NOT NULL,
	config       TEXT,
	auto_process INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(job_type);

CREATE TABLE IF NOT EXISTS job_runs (
	run_id        TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	status        TEXT NOT NULL,
	started_at    TEXT,
	ended_at      TEXT,
	checkpoint    TEXT,
	error_code    TEXT,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job_id);
CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs(status);

CREATE TABLE IF NOT EXISTS llm_requests (
	request_id   TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES job_runs(run_id) ON DELETE CASCADE,
	provider     TEXT NOT NULL,
	model        TEXT NOT NULL,
	prompt_hash  TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS llm_responses (
	request_id    TEXT PRIMARY KEY REFERENCES llm_requests(request_id) ON DELETE CASCADE,
	response_text TEXT,
	tokens_in     INTEGER,
	tokens_out    INTEGER,
	duration_ms   INTEGER,
	error_code    TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS generated_files (
	source_id  TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
	file_type  TEXT NOT NULL, -- 'transcript_md' | 'summary_md'
	path       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (source_id, file_type)
);

CREATE VIRTUAL TABLE IF NOT EXISTS claims_fts USING fts5(
	claim_id UNINDEXED,
	canonical_text
);
`

// insertSchemaVersionIfEmpty runs after table creation on every open and
// inserts a row only if none exists yet.
const insertSchemaVersionIfEmpty = `
INSERT INTO schema_version (version)
SELECT ?
WHERE NOT EXISTS (SELECT 1 FROM schema_version);
`

const getSchemaVersion = `SELECT version FROM schema_version LIMIT 1;`
