package store

// schema is the DDL applied by Migrate. It targets the MySQL dialect Dolt
// speaks natively; every statement also runs unmodified against the
// embedded SQLite backend (ncruces/go-sqlite3 tolerates the JSON column
// type as TEXT storage class and ignores ENGINE/CHARSET clauses that don't
// apply), so one schema serves both backends rather than forking per
// dialect.
const schema = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entity_identifiers (
	entity_id TEXT NOT NULL,
	id_type TEXT NOT NULL,
	id_value TEXT NOT NULL,
	PRIMARY KEY (id_type, id_value)
);

CREATE INDEX IF NOT EXISTS idx_entity_identifiers_entity ON entity_identifiers (entity_id);

CREATE TABLE IF NOT EXISTS contributors (
	id TEXT PRIMARY KEY,
	lookup_key TEXT NOT NULL,
	source TEXT NOT NULL,
	source_identifier TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	name_variants JSON,
	structured_name_variants JSON,
	identifiers JSON,
	UNIQUE (lookup_key)
);

CREATE TABLE IF NOT EXISTS concepts (
	id TEXT PRIMARY KEY,
	lookup_key TEXT NOT NULL,
	uri TEXT NOT NULL DEFAULT '',
	labels JSON,
	UNIQUE (lookup_key)
);

CREATE TABLE IF NOT EXISTS source_entities (
	id TEXT PRIMARY KEY,
	entity_table TEXT NOT NULL,
	source TEXT NOT NULL,
	source_identifier TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	identifiers JSON,
	UNIQUE (entity_table, source, source_identifier)
);

CREATE TABLE IF NOT EXISTS retrievals (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS harvestings (
	id TEXT PRIMARY KEY,
	retrieval_id TEXT NOT NULL,
	harvester TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	harvest_errors JSON
);

CREATE INDEX IF NOT EXISTS idx_harvestings_retrieval ON harvestings (retrieval_id);

CREATE TABLE IF NOT EXISTS references_ (
	id TEXT PRIMARY KEY,
	harvester TEXT NOT NULL,
	source_identifier TEXT NOT NULL,
	harvester_version TEXT NOT NULL DEFAULT '',
	hash TEXT NOT NULL,
	version INTEGER NOT NULL,
	titles JSON,
	subtitles JSON,
	abstracts JSON,
	subjects JSON,
	contributions JSON,
	document_types JSON,
	identifiers JSON,
	manifestations JSON,
	issue_ref JSON,
	book_ref JSON,
	page TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NULL,
	issued_at TIMESTAMP NULL,
	raw_issued TEXT NOT NULL DEFAULT '',
	UNIQUE (harvester, source_identifier, version)
);

CREATE INDEX IF NOT EXISTS idx_references_last_version ON references_ (harvester, source_identifier, version);

CREATE TABLE IF NOT EXISTS reference_events (
	id TEXT PRIMARY KEY,
	harvesting_id TEXT NOT NULL,
	reference_id TEXT NOT NULL,
	source_identifier TEXT NOT NULL,
	event_type TEXT NOT NULL,
	enhanced INTEGER NOT NULL DEFAULT 0,
	UNIQUE (harvesting_id, source_identifier)
);
`
