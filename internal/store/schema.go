package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS samples (
    fetched_at           INTEGER NOT NULL,
    session              REAL NOT NULL,
    weekly               REAL NOT NULL,
    sonnet               REAL NOT NULL,
    opus                 REAL NOT NULL,
    extra_used           REAL,
    subscription_type    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_fetched ON samples(fetched_at);
`
