package postgres

// queryNamespaceExists reports whether a schema exists. $1 = schema.
const queryNamespaceExists = `
	SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`

// queryListSchemas has one %s placeholder for the schema filter clause.
const queryListSchemas = `
	SELECT s.schema_name
	FROM information_schema.schemata s
	WHERE %s
		AND s.schema_name NOT LIKE 'pg\_%%'
	ORDER BY s.schema_name`

// queryListTables lists base tables and views of one schema. $1 = schema.
const queryListTables = `
	SELECT t.table_name
	FROM information_schema.tables t
	WHERE t.table_schema = $1
		AND t.table_type IN ('BASE TABLE', 'VIEW')
	ORDER BY t.table_name`

// queryColumns fetches column names and formatted types in declaration order.
// $1 = schema, $2 = table_name.
const queryColumns = `
	SELECT a.attname, pg_catalog.format_type(a.atttypid, a.atttypmod)
	FROM pg_attribute a
	JOIN pg_class c ON c.oid = a.attrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
	ORDER BY a.attnum`

// queryPrimaryKeys fetches primary key column names. $1 = schema, $2 = table_name.
const queryPrimaryKeys = `
	SELECT a.attname
	FROM pg_index i
	JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
	WHERE i.indrelid = (quote_ident($1) || '.' || quote_ident($2))::regclass
		AND i.indisprimary`
