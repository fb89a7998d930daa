package sqlite

const schema = `
-- Bugs table
CREATE TABLE IF NOT EXISTS bugs (
    id TEXT PRIMARY KEY,
    app_name TEXT NOT NULL,
    app_package TEXT NOT NULL,
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending', 'verified', 'not_reproducible', 'fixed')),
    severity INTEGER CHECK(severity IS NULL OR (severity >= 1 AND severity <= 5)),
    created_at TEXT NOT NULL,
    last_verified TEXT,
    notes TEXT NOT NULL DEFAULT '',
    latest_verification TEXT
);

CREATE INDEX IF NOT EXISTS idx_bugs_status ON bugs(status);
CREATE INDEX IF NOT EXISTS idx_bugs_app_package ON bugs(app_package);
CREATE INDEX IF NOT EXISTS idx_bugs_created_at ON bugs(created_at);

-- Raw intake records, in submission order
CREATE TABLE IF NOT EXISTS intake (
    seq INTEGER PRIMARY KEY,
    app_name TEXT NOT NULL,
    app_package TEXT NOT NULL DEFAULT '',
    bug TEXT NOT NULL
);
`
