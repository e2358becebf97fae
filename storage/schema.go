package storage

import (
	"strings"

	"tourgraph/config"
)

// schemaTemplate is shared by both backends. {{id}} and {{ts}} are replaced
// per dialect; everything else is portable between SQLite and PostgreSQL.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS listings (
	id               {{id}},
	code             TEXT NOT NULL UNIQUE,
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	one_liner        TEXT,
	partition_id     TEXT NOT NULL DEFAULT '',
	partition_name   TEXT NOT NULL DEFAULT '',
	country          TEXT NOT NULL DEFAULT '',
	continent        TEXT NOT NULL DEFAULT '',
	timezone         TEXT NOT NULL DEFAULT '',
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	rating           DOUBLE PRECISION CHECK (rating IS NULL OR (rating >= 0 AND rating <= 5)),
	review_count     INTEGER,
	price            DOUBLE PRECISION,
	currency         TEXT NOT NULL DEFAULT 'USD',
	duration_minutes INTEGER,
	cover_image_url  TEXT NOT NULL DEFAULT '',
	image_urls_json  TEXT NOT NULL DEFAULT '[]',
	highlights_json  TEXT NOT NULL DEFAULT '[]',
	inclusions_json  TEXT NOT NULL DEFAULT '[]',
	booking_url      TEXT NOT NULL DEFAULT '',
	supplier_name    TEXT NOT NULL DEFAULT '',
	tags_json        TEXT NOT NULL DEFAULT '[]',
	category         TEXT NOT NULL DEFAULT 'wildcard',
	status           TEXT NOT NULL DEFAULT 'active',
	fingerprint      TEXT NOT NULL DEFAULT '',
	first_seen       {{ts}} NOT NULL,
	last_seen        {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_partition ON listings(partition_id, status);
CREATE INDEX IF NOT EXISTS idx_listings_category  ON listings(category, status);
CREATE INDEX IF NOT EXISTS idx_listings_timezone  ON listings(timezone);
CREATE INDEX IF NOT EXISTS idx_listings_price     ON listings(price);
CREATE INDEX IF NOT EXISTS idx_listings_rating    ON listings(rating);

CREATE TABLE IF NOT EXISTS partitions (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	parent_id   TEXT,
	timezone    TEXT NOT NULL DEFAULT '',
	latitude    DOUBLE PRECISION,
	longitude   DOUBLE PRECISION,
	lookup_path TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_partitions_parent ON partitions(parent_id);

CREATE TABLE IF NOT EXISTS chains (
	id           {{id}},
	city_from    TEXT NOT NULL,
	city_to      TEXT NOT NULL,
	chain_json   TEXT NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	generated_at {{ts}} NOT NULL,
	UNIQUE (city_from, city_to)
);

CREATE TABLE IF NOT EXISTS sync_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at {{ts}} NOT NULL
);
`

func schemaFor(driver string) []string {
	r := strings.NewReplacer(
		"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "TIMESTAMP",
	)
	if driver == config.DriverPostgres {
		r = strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{ts}}", "TIMESTAMPTZ",
		)
	}

	// One statement per Exec so a migration error points at its statement.
	var stmts []string
	for _, s := range strings.Split(r.Replace(schemaTemplate), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
