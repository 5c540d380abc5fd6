package dbclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"backoffice/internal/domain"
)

// mongoConnector implements Connector for MongoDB. Documents keep their
// nesting, so a grid column such as "address.city" resolves into them.
type mongoConnector struct {
	client *mongo.Client
	dbName string
	logger *zap.Logger

	mu         sync.Mutex
	cursor     *mongo.Cursor
	collection string
	lastAccess time.Time
	fetched    int
}

// mongoQuery is the JSON document users write for MongoDB queries.
type mongoQuery struct {
	Collection string         `json:"collection"`
	Operation  string         `json:"operation,omitempty"` // find (default), aggregate, insertOne, updateMany, deleteMany
	Filter     map[string]any `json:"filter,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
	Sort       map[string]any `json:"sort,omitempty"`
	Limit      int64          `json:"limit,omitempty"`
	Document   map[string]any `json:"document,omitempty"`
	Update     map[string]any `json:"update,omitempty"`
	Pipeline   []any          `json:"pipeline,omitempty"`
}

// buildMongoURI returns the connection URI and the database to use. A host
// that already is a mongodb:// or mongodb+srv:// URI is used as given, with
// Atlas password placeholders filled in.
func buildMongoURI(conn *domain.DatabaseConnection, password string) (string, string) {
	if strings.HasPrefix(conn.Host, "mongodb://") || strings.HasPrefix(conn.Host, "mongodb+srv://") {
		uri := conn.Host
		if password != "" {
			uri = strings.NewReplacer("<password>", password, "<db_password>", password).Replace(uri)
		}
		dbName := conn.Database
		if dbName == "" {
			if u, err := url.Parse(uri); err == nil {
				dbName = strings.Trim(u.Path, "/")
			}
		}
		if dbName == "" {
			dbName = "test"
		}
		return uri, dbName
	}

	port := conn.Port
	if port == 0 {
		port = domain.DatabaseDriverMongoDB.DefaultPort()
	}
	u := url.URL{Scheme: "mongodb", Host: conn.Host + ":" + strconv.Itoa(port)}
	if conn.Username != "" {
		u.User = url.UserPassword(conn.Username, password)
	}
	if conn.ExtraJSON != "" && conn.ExtraJSON != "{}" {
		var extras map[string]string
		if json.Unmarshal([]byte(conn.ExtraJSON), &extras) == nil && len(extras) > 0 {
			q := url.Values{}
			for k, v := range extras {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
		}
	}
	dbName := conn.Database
	if dbName == "" {
		dbName = "test"
	}
	return u.String(), dbName
}

func newMongoConnector(conn *domain.DatabaseConnection, password string, logger *zap.Logger) (*mongoConnector, error) {
	uri, dbName := buildMongoURI(conn, password)
	logger.Debug("connecting", zap.String("database", dbName))

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, dbName: dbName, logger: logger}, nil
}

// decodeExtJSON converts MongoDB Extended JSON ($oid, $date, $numberLong)
// in a user-supplied document to BSON values.
func decodeExtJSON(field map[string]any) (bson.D, error) {
	if field == nil {
		return nil, nil
	}
	raw, err := json.Marshal(field)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("extended json: %w", err)
	}
	return doc, nil
}

// parseObjectID accepts raw hex or the ObjectID("...") form.
func parseObjectID(s string) (bson.ObjectID, error) {
	if oid, err := bson.ObjectIDFromHex(s); err == nil {
		return oid, nil
	}
	if inner, ok := strings.CutPrefix(s, `ObjectID("`); ok {
		if hex, ok := strings.CutSuffix(inner, `")`); ok {
			return bson.ObjectIDFromHex(hex)
		}
	}
	return bson.ObjectID{}, fmt.Errorf("invalid ObjectID: %s", s)
}

// normalizeBSON converts driver values to plain Go values: ObjectIDs become
// hex strings, DateTimes become time.Time, documents become maps and arrays
// become slices.
func normalizeBSON(v any) any {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case bson.Decimal128:
		if f, err := strconv.ParseFloat(val.String(), 64); err == nil {
			return f
		}
		return val.String()
	case int32:
		return int64(val)
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = normalizeBSON(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = normalizeBSON(e)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeBSON(e)
		}
		return out
	default:
		return val
	}
}

func (m *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func parseMongoQuery(query string) (*mongoQuery, error) {
	var mq mongoQuery
	if err := json.Unmarshal([]byte(query), &mq); err != nil {
		return nil, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return nil, errors.New("query must specify 'collection'")
	}
	if mq.Operation == "" {
		mq.Operation = "find"
	}
	return &mq, nil
}

func (m *mongoConnector) Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCursorLocked(ctx)
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}

	mq, err := parseMongoQuery(query)
	if err != nil {
		return nil, err
	}
	filter, err := decodeExtJSON(mq.Filter)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if filter == nil {
		filter = bson.D{}
	}
	m.logger.Debug("mongo query", zap.String("collection", mq.Collection), zap.String("operation", mq.Operation))

	coll := m.client.Database(m.dbName).Collection(mq.Collection)
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch mq.Operation {
	case "find":
		opts := options.Find().SetBatchSize(int32(fetchSize))
		if p, err := decodeExtJSON(mq.Projection); err == nil && p != nil {
			opts.SetProjection(p)
		}
		if s, err := decodeExtJSON(mq.Sort); err == nil && s != nil {
			opts.SetSort(s)
		}
		if mq.Limit > 0 {
			opts.SetLimit(mq.Limit)
		}
		cursor, err := coll.Find(context.WithoutCancel(ctx), filter, opts)
		if err != nil {
			return nil, fmt.Errorf("find: %w", err)
		}
		return m.openCursorLocked(opCtx, cursor, mq.Collection, fetchSize)

	case "aggregate":
		pipeline := mq.Pipeline
		if pipeline == nil {
			pipeline = []any{}
		}
		cursor, err := coll.Aggregate(context.WithoutCancel(ctx), pipeline)
		if err != nil {
			return nil, fmt.Errorf("aggregate: %w", err)
		}
		return m.openCursorLocked(opCtx, cursor, mq.Collection, fetchSize)

	case "insertOne":
		doc, err := decodeExtJSON(mq.Document)
		if err != nil || doc == nil {
			return nil, fmt.Errorf("insertOne requires 'document'")
		}
		if _, err := coll.InsertOne(opCtx, doc); err != nil {
			return nil, fmt.Errorf("insertOne: %w", err)
		}
		return &QueryPage{IsWrite: true, AffectedRows: 1}, nil

	case "updateMany":
		update, err := decodeExtJSON(mq.Update)
		if err != nil || update == nil {
			return nil, fmt.Errorf("updateMany requires 'update'")
		}
		res, err := coll.UpdateMany(opCtx, filter, update)
		if err != nil {
			return nil, fmt.Errorf("updateMany: %w", err)
		}
		return &QueryPage{IsWrite: true, AffectedRows: int(res.ModifiedCount)}, nil

	case "deleteMany":
		res, err := coll.DeleteMany(opCtx, filter)
		if err != nil {
			return nil, fmt.Errorf("deleteMany: %w", err)
		}
		return &QueryPage{IsWrite: true, AffectedRows: int(res.DeletedCount)}, nil

	default:
		return nil, fmt.Errorf("unsupported operation: %s", mq.Operation)
	}
}

func (m *mongoConnector) openCursorLocked(ctx context.Context, cursor *mongo.Cursor, collection string, fetchSize int) (*QueryPage, error) {
	m.cursor = cursor
	m.collection = collection
	m.fetched = 0
	m.lastAccess = time.Now()
	return m.fetchBatchLocked(ctx, fetchSize)
}

func (m *mongoConnector) FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor == nil {
		return nil, errors.New("no active cursor: execute a query first")
	}
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	m.lastAccess = time.Now()
	return m.fetchBatchLocked(ctx, fetchSize)
}

func (m *mongoConnector) fetchBatchLocked(ctx context.Context, fetchSize int) (*QueryPage, error) {
	var docs []bson.D
	for len(docs) < fetchSize && m.cursor.Next(ctx) {
		var doc bson.D
		if err := m.cursor.Decode(&doc); err != nil {
			m.closeCursorLocked(ctx)
			return nil, fmt.Errorf("decode: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := m.cursor.Err(); err != nil {
		m.closeCursorLocked(ctx)
		return nil, fmt.Errorf("cursor: %w", err)
	}
	m.fetched += len(docs)

	columns, rows := documentsToRows(docs)
	hasMore := len(docs) == fetchSize
	if !hasMore {
		m.closeCursorLocked(ctx)
	}
	m.logger.Debug("mongo batch", zap.Int("docs", len(docs)), zap.Int("total", m.fetched))

	return &QueryPage{
		Columns:      columns,
		Rows:         rows,
		TotalFetched: m.fetched,
		HasMore:      hasMore,
		Table:        m.collection,
		PrimaryKeys:  []string{"_id"},
	}, nil
}

// documentsToRows flattens the top level of each document into a row.
// Columns are the union of top-level keys: _id first, the rest sorted.
func documentsToRows(docs []bson.D) ([]string, [][]any) {
	seen := map[string]bool{}
	for _, doc := range docs {
		for _, elem := range doc {
			seen[elem.Key] = true
		}
	}
	columns := slices.SortedFunc(maps.Keys(seen), func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == "_id":
			return -1
		case b == "_id":
			return 1
		default:
			return strings.Compare(a, b)
		}
	})

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		row := make([]any, len(columns))
		for _, elem := range doc {
			row[index[elem.Key]] = normalizeBSON(elem.Value)
		}
		rows = append(rows, row)
	}
	return columns, rows
}

func (m *mongoConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db := m.client.Database(m.dbName)
	collections, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	slices.Sort(collections)

	schema := &SchemaInfo{}
	for _, name := range collections {
		info := TableInfo{Name: name}
		var doc bson.D
		// A single sampled document stands in for the collection's shape.
		if err := db.Collection(name).FindOne(ctx, bson.D{}).Decode(&doc); err == nil {
			for _, elem := range doc {
				info.Columns = append(info.Columns, ColumnInfo{Name: elem.Key, Type: fmt.Sprintf("%T", elem.Value)})
			}
		}
		schema.Tables = append(schema.Tables, info)
	}
	return schema, nil
}

// mongoKeyFilter builds the match filter for a mutation. String _id values
// that parse as ObjectIDs are converted.
func mongoKeyFilter(rowKey map[string]any) bson.D {
	filter := bson.D{}
	for _, k := range slices.Sorted(maps.Keys(rowKey)) {
		v := rowKey[k]
		if s, ok := v.(string); ok && k == "_id" {
			if oid, err := parseObjectID(s); err == nil {
				v = oid
			}
		}
		filter = append(filter, bson.E{Key: k, Value: v})
	}
	return filter
}

func (m *mongoConnector) ApplyMutations(ctx context.Context, table string, mutations []Mutation) (*MutationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.client.Database(m.dbName).Collection(table)
	result := &MutationResult{}

	for _, mut := range mutations {
		filter := mongoKeyFilter(mut.RowKey)
		var execErr error

		switch mut.Type {
		case "update":
			if len(mut.Changes) == 0 {
				continue
			}
			res, err := coll.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.M(mut.Changes)}})
			switch {
			case err != nil:
				execErr = err
			case res.MatchedCount == 0:
				execErr = fmt.Errorf("update matched no document for %v", mut.RowKey)
			}
		case "delete":
			res, err := coll.DeleteOne(ctx, filter)
			switch {
			case err != nil:
				execErr = err
			case res.DeletedCount == 0:
				execErr = fmt.Errorf("delete matched no document for %v", mut.RowKey)
			}
		default:
			execErr = fmt.Errorf("unknown mutation type: %s", mut.Type)
		}

		if execErr != nil {
			result.Errors = append(result.Errors, execErr.Error())
			continue
		}
		result.Applied++
	}
	m.logger.Info("mutations applied",
		zap.String("collection", table), zap.Int("applied", result.Applied), zap.Int("failed", len(result.Errors)))
	return result, nil
}

func (m *mongoConnector) Close() error {
	m.mu.Lock()
	m.closeCursorLocked(context.Background())
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *mongoConnector) closeCursorLocked(ctx context.Context) {
	if m.cursor != nil {
		m.cursor.Close(ctx)
		m.cursor = nil
	}
}
