package storage

const schema = `
CREATE TABLE IF NOT EXISTS folders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS feeds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT,
    link TEXT UNIQUE,
    url TEXT NOT NULL UNIQUE,
    last_updated DATETIME,
    icon TEXT,
    last_fetch DATETIME,
    last_fetch_error TEXT,
    folder_id INTEGER REFERENCES folders(id) ON DELETE SET NULL,
    fetch_frequency INTEGER NOT NULL DEFAULT 60,
    view INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    link TEXT NOT NULL UNIQUE,
    author TEXT,
    image_url TEXT,
    summary TEXT,
    podcast TEXT,
    pub_date DATETIME,
    is_read BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_posts_feed_id ON posts(feed_id);
CREATE INDEX IF NOT EXISTS idx_posts_pub_date ON posts(pub_date DESC);

CREATE TABLE IF NOT EXISTS post_contents (
    post_id INTEGER PRIMARY KEY REFERENCES posts(id) ON DELETE CASCADE,
    content TEXT
);
`
