package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"extractor/internal/domain"
	"extractor/internal/table"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoConnector implements Connector for MongoDB.
type mongoConnector struct {
	client *mongo.Client
	dbName string
	opts   Options
}

// mongoQuery is the JSON structure users write for MongoDB queries.
// Filter, projection and sort accept Extended JSON ($oid, $date, ...).
type mongoQuery struct {
	Collection string          `json:"collection"`
	Filter     json.RawMessage `json:"filter,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
	Sort       json.RawMessage `json:"sort,omitempty"`
	Limit      int64           `json:"limit,omitempty"`
	Pipeline   json.RawMessage `json:"pipeline,omitempty"` // runs aggregate when set
}

// BuildMongoURI resolves the connection string and database name. A host that
// is already a mongodb:// or mongodb+srv:// URI is used directly, with
// <password> placeholders filled in.
func BuildMongoURI(conn *domain.DatabaseConnection, password string) (uri, dbName string) {
	if isURL(conn.Host, "mongodb+srv://", "mongodb://") {
		uri = conn.Host
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
	} else {
		port := conn.Port
		if port == 0 {
			port = 27017
		}
		if conn.Username != "" {
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
		}

		// extraJSON carries authSource, replicaSet, etc.
		if conn.ExtraJSON != "" && conn.ExtraJSON != "{}" {
			var extras map[string]string
			if json.Unmarshal([]byte(conn.ExtraJSON), &extras) == nil && len(extras) > 0 {
				params := make([]string, 0, len(extras))
				for k, v := range extras {
					params = append(params, k+"="+v)
				}
				uri += "/?" + strings.Join(params, "&")
			}
		}
	}

	dbName = conn.Database
	if dbName == "" {
		dbName = databaseFromURI(uri)
	}
	if dbName == "" {
		dbName = "test"
	}
	return uri, dbName
}

// databaseFromURI extracts the path segment of user:pass@host/DB?params.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return ""
	}
	path := rest[slash+1:]
	if q := strings.Index(path, "?"); q != -1 {
		path = path[:q]
	}
	return path
}

func newMongoConnector(conn *domain.DatabaseConnection, password string, o Options) (*mongoConnector, error) {
	uri, dbName := BuildMongoURI(conn, password)

	logURI := uri
	if password != "" {
		logURI = strings.ReplaceAll(logURI, password, "***")
	}
	log.Printf("[MONGO] connecting to %s (database %s)", logURI, dbName)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, dbName: dbName, opts: o}, nil
}

// ParseMongoQuery decodes the query JSON. Extended JSON fields are converted
// to BSON so ObjectIDs and dates can be used in filters.
func ParseMongoQuery(query string) (collection string, filter, projection, sort bson.D, pipeline bson.A, limit int64, err error) {
	var mq mongoQuery
	if err = json.Unmarshal([]byte(query), &mq); err != nil {
		return "", nil, nil, nil, nil, 0, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return "", nil, nil, nil, nil, 0, fmt.Errorf("query must specify 'collection'")
	}
	if filter, err = ejsonDoc(mq.Filter, "filter"); err != nil {
		return
	}
	if projection, err = ejsonDoc(mq.Projection, "projection"); err != nil {
		return
	}
	if sort, err = ejsonDoc(mq.Sort, "sort"); err != nil {
		return
	}
	if len(mq.Pipeline) > 0 {
		// Wrap so UnmarshalExtJSON sees a document.
		wrapped := append(append([]byte(`{"p":`), mq.Pipeline...), '}')
		var holder struct {
			P bson.A `bson:"p"`
		}
		if err = bson.UnmarshalExtJSON(wrapped, false, &holder); err != nil {
			return "", nil, nil, nil, nil, 0, fmt.Errorf("invalid pipeline: %w", err)
		}
		pipeline = holder.P
		if pipeline == nil {
			pipeline = bson.A{}
		}
	}
	return mq.Collection, filter, projection, sort, pipeline, mq.Limit, nil
}

func ejsonDoc(raw json.RawMessage, field string) (bson.D, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return doc, nil
}

func (m *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoConnector) Query(ctx context.Context, query string) (table.Source, error) {
	collection, filter, projection, sort, pipeline, limit, err := ParseMongoQuery(query)
	if err != nil {
		return nil, err
	}
	coll := m.client.Database(m.dbName).Collection(collection)

	ctx, cancel := context.WithTimeout(ctx, m.opts.QueryTimeout)
	var cursor *mongo.Cursor
	if pipeline != nil {
		if limit > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
		}
		cursor, err = coll.Aggregate(ctx, pipeline)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("aggregate: %w", err)
		}
	} else {
		opts := options.Find()
		if projection != nil {
			opts.SetProjection(projection)
		}
		if sort != nil {
			opts.SetSort(sort)
		}
		if limit > 0 {
			opts.SetLimit(limit)
		}
		if filter == nil {
			filter = bson.D{}
		}
		cursor, err = coll.Find(ctx, filter, opts)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("find: %w", err)
		}
	}

	log.Printf("[MONGO] cursor opened on %s.%s", m.dbName, collection)
	return &mongoSource{cursor: cursor, cancel: cancel}, nil
}

// mongoSource streams documents as keyed records. Columns are discovered
// from the first document.
type mongoSource struct {
	mu     sync.Mutex
	cursor *mongo.Cursor
	cancel context.CancelFunc
	closed bool
}

func (s *mongoSource) Columns() []string { return nil }

func (s *mongoSource) Next(ctx context.Context) (table.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return table.Record{}, table.ErrSourceClosed
	}
	if !s.cursor.Next(ctx) {
		if err := s.cursor.Err(); err != nil {
			return table.Record{}, fmt.Errorf("cursor: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return table.Record{}, err
		}
		return table.Record{}, io.EOF
	}
	var doc bson.D
	if err := s.cursor.Decode(&doc); err != nil {
		return table.Record{}, fmt.Errorf("decode: %w", err)
	}
	return DocumentRecord(doc), nil
}

func (s *mongoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.cursor.Close(ctx)
	s.cancel()
	return err
}

// DocumentRecord converts a top-level document into a keyed record.
func DocumentRecord(doc bson.D) table.Record {
	fields := make(map[string]table.Value, len(doc))
	for _, elem := range doc {
		fields[elem.Key] = table.FromBSON(elem.Value)
	}
	return table.Keyed(fields)
}

func (m *mongoConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db := m.client.Database(m.dbName)

	collections, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	schema := &SchemaInfo{}
	for _, collName := range collections {
		// Sample one document to extract field names
		var doc bson.D
		err := db.Collection(collName).FindOne(ctx, bson.D{}).Decode(&doc)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: collName})
			continue
		}

		cols := make([]ColumnInfo, 0, len(doc))
		for _, elem := range doc {
			cols = append(cols, ColumnInfo{
				Name: elem.Key,
				Type: table.FromBSON(elem.Value).TypeName(),
			})
		}
		schema.Tables = append(schema.Tables, TableInfo{Name: collName, Columns: cols})
	}

	return schema, nil
}

func (m *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
