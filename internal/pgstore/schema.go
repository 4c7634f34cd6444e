package pgstore

// SchemaSQL creates the pipeline tables. Natural keys are primary keys, so
// inserts can rely on ON CONFLICT DO NOTHING for claim semantics.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS ingestion_task (
    filing_id     BIGINT      NOT NULL,
    source        TEXT        NOT NULL,
    status        TEXT        NOT NULL,
    failed_step   TEXT,
    error_message TEXT,
    skip_reason   TEXT,
    file_size_mb  DOUBLE PRECISION,
    source_url    TEXT,
    emailed_at    TIMESTAMPTZ,
    reset_at      TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (filing_id, source)
);
ALTER TABLE ingestion_task ADD COLUMN IF NOT EXISTS reset_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS ingestion_task_status_idx ON ingestion_task (status, source);

CREATE TABLE IF NOT EXISTS filing (
    filing_id        BIGINT PRIMARY KEY,
    committee_id     TEXT        NOT NULL,
    committee_name   TEXT,
    form_type        TEXT,
    report_type      TEXT,
    coverage_from    TIMESTAMPTZ,
    coverage_through TIMESTAMPTZ,
    filed_at         TIMESTAMPTZ,
    source_url       TEXT        NOT NULL,
    total_receipts   DOUBLE PRECISION,
    threshold_flag   BOOLEAN     NOT NULL DEFAULT FALSE,
    raw_meta         JSONB,
    emailed_at       TIMESTAMPTZ,
    first_seen_at    TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS filing_filed_at_idx ON filing (filed_at);

CREATE TABLE IF NOT EXISTS ie_event (
    event_id           TEXT PRIMARY KEY,
    filing_id          BIGINT      NOT NULL,
    filer_id           TEXT        NOT NULL,
    committee_id       TEXT        NOT NULL,
    committee_name     TEXT,
    form_type          TEXT,
    report_type        TEXT,
    coverage_from      TIMESTAMPTZ,
    coverage_through   TIMESTAMPTZ,
    filed_at           TIMESTAMPTZ,
    expenditure_date   TIMESTAMPTZ,
    amount             DOUBLE PRECISION,
    support_oppose     TEXT,
    candidate_id       TEXT,
    candidate_name     TEXT,
    candidate_office   TEXT,
    candidate_state    TEXT,
    candidate_district TEXT,
    candidate_party    TEXT,
    election_code      TEXT,
    purpose            TEXT,
    payee_name         TEXT,
    source_url         TEXT        NOT NULL,
    raw_line           TEXT        NOT NULL,
    emailed_at         TIMESTAMPTZ,
    first_seen_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ie_event_filing_idx ON ie_event (filing_id);
CREATE INDEX IF NOT EXISTS ie_event_filed_at_idx ON ie_event (filed_at);

CREATE TABLE IF NOT EXISTS backfill_job (
    target_date   DATE        NOT NULL,
    filing_type   TEXT        NOT NULL,
    status        TEXT        NOT NULL,
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ,
    filings_found INTEGER     NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (target_date, filing_type)
);

CREATE TABLE IF NOT EXISTS committee (
    committee_id TEXT PRIMARY KEY,
    name         TEXT        NOT NULL,
    provisional  BOOLEAN     NOT NULL DEFAULT FALSE,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS app_config (
    key        TEXT PRIMARY KEY,
    value      TEXT        NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`
