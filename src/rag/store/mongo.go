package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements VectorStore on MongoDB Atlas vector search. Each
// collection maps to a Mongo collection carrying an "embedding" field and a
// vector search index named vector_index.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

const mongoCloseTimeout = 5 * time.Second

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// Close disconnects from MongoDB.
func (ms *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

// EnsureCollection creates the collection and its vector search index.
// Index creation on a pre-existing index is treated as success.
func (ms *MongoStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrWrite, dimension)
	}
	// CreateCollection fails with NamespaceExists when re-run; ignore it.
	if err := ms.db.CreateCollection(ctx, name); err != nil {
		var cmdErr mongo.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Name != "NamespaceExists" {
			return fmt.Errorf("%w: create collection %s: %v", ErrWrite, name, err)
		}
	}
	def := bson.D{
		{Key: "fields", Value: bson.A{
			bson.D{
				{Key: "type", Value: "vector"},
				{Key: "path", Value: "embedding"},
				{Key: "numDimensions", Value: dimension},
				{Key: "similarity", Value: "cosine"},
			},
			bson.D{
				{Key: "type", Value: "filter"},
				{Key: "path", Value: "payload.session_id"},
			},
		}},
	}
	opts := options.SearchIndexes().SetName("vector_index").SetType("vectorSearch")
	if _, err := ms.db.Collection(name).SearchIndexes().CreateOne(ctx, mongo.SearchIndexModel{
		Definition: def,
		Options:    opts,
	}); err != nil {
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Name == "IndexAlreadyExists" {
			return nil
		}
		return fmt.Errorf("%w: create search index on %s: %v", ErrWrite, name, err)
	}
	return nil
}

func (ms *MongoStore) DeleteCollection(ctx context.Context, name string) error {
	if err := ms.db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("%w: drop %s: %v", ErrWrite, name, err)
	}
	return nil
}

type mongoPointDoc struct {
	ID        string         `bson:"_id"`
	Embedding []float64      `bson:"embedding"`
	Payload   map[string]any `bson:"payload"`
}

func (ms *MongoStore) Upsert(ctx context.Context, collection string, points []Point) error {
	coll := ms.db.Collection(collection)
	opts := options.Replace().SetUpsert(true)
	for _, p := range points {
		doc := mongoPointDoc{
			ID:        p.ID,
			Embedding: float64Embedding(p.Vector),
			Payload:   p.Payload,
		}
		if _, err := coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, opts); err != nil {
			return fmt.Errorf("%w: upsert into %s: %v", ErrWrite, collection, err)
		}
	}
	return nil
}

func (ms *MongoStore) Search(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	search := bson.D{
		{Key: "index", Value: "vector_index"},
		{Key: "path", Value: "embedding"},
		{Key: "queryVector", Value: float64Embedding(vector)},
		{Key: "numCandidates", Value: int64(topK * 10)}, // oversample for better accuracy
		{Key: "limit", Value: int64(topK)},
	}
	if len(filter) > 0 {
		cond := bson.D{}
		for k, v := range filter {
			cond = append(cond, bson.E{Key: "payload." + k, Value: v})
		}
		search = append(search, bson.E{Key: "filter", Value: cond})
	}
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: search}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}

	cursor, err := ms.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", ErrRead, collection, err)
	}
	defer cursor.Close(ctx)

	var results []Result
	for cursor.Next(ctx) {
		var doc struct {
			mongoPointDoc `bson:",inline"`
			Score         float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrRead, err)
		}
		results = append(results, Result{ID: doc.ID, Score: doc.Score, Payload: doc.Payload})
	}
	return results, cursor.Err()
}

func (ms *MongoStore) Count(ctx context.Context, collection string) (int, error) {
	n, err := ms.db.Collection(collection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", ErrRead, collection, err)
	}
	return int(n), nil
}

func (ms *MongoStore) List(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 1000
	}
	cond := bson.M{}
	for k, v := range filter {
		cond["payload."+k] = v
	}
	opts := options.Find().SetLimit(int64(limit)).SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := ms.db.Collection(collection).Find(ctx, cond, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrRead, collection, err)
	}
	defer cursor.Close(ctx)

	var points []Point
	for cursor.Next(ctx) {
		var doc mongoPointDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrRead, err)
		}
		points = append(points, Point{
			ID:      doc.ID,
			Vector:  float32Embedding(doc.Embedding),
			Payload: doc.Payload,
		})
	}
	return points, cursor.Err()
}

func float64Embedding(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func float32Embedding(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

var _ VectorStore = (*MongoStore)(nil)
