package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"time"

	"smartshop/internal/domain"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect opens a client for uri and returns the named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

type productDoc struct {
	ID        string               `bson:"_id"`
	OwnerID   string               `bson:"owner_id"`
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Quantity  int                  `bson:"quantity"`
	Price     primitive.Decimal128 `bson:"price"`
	ImageRef  *string              `bson:"image_ref,omitempty"`
	Version   int64                `bson:"version"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

// MongoMirror keeps one document per (owner, product). Every write bumps the
// document's version.
type MongoMirror struct {
	collection *mongo.Collection
	logger     *log.Logger
	retryDelay time.Duration
}

func NewMongoMirror(db *mongo.Database, collection string, logger *log.Logger) *MongoMirror {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &MongoMirror{
		collection: db.Collection(collection),
		logger:     logger,
		retryDelay: time.Second,
	}
}

// CreateIndexes ensures the owner lookup index exists.
func (m *MongoMirror) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "product_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoMirror) Upsert(ctx context.Context, ownerID string, p domain.Product) error {
	filter, update, err := upsertModel(ownerID, p)
	if err != nil {
		return err
	}
	_, err = m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (m *MongoMirror) UpsertBatch(ctx context.Context, ownerID string, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(products))
	for _, p := range products {
		filter, update, err := upsertModel(ownerID, p)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	res, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert batch: %w", err)
	}
	m.logger.Printf("remote: batch owner=%s matched=%d upserted=%d", ownerID, res.MatchedCount, res.UpsertedCount)
	return nil
}

func (m *MongoMirror) Delete(ctx context.Context, ownerID, productID string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": docID(ownerID, productID)})
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

func (m *MongoMirror) Subscribe(ctx context.Context, ownerID string) (<-chan Snapshot, error) {
	products, err := m.find(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make(chan Snapshot, 1)
	out <- Snapshot{Products: products}

	go func() {
		defer close(out)
		delay := m.retryDelay
		for {
			err := m.watch(ctx, ownerID, out)
			if ctx.Err() != nil {
				return
			}
			m.logger.Printf("remote: change stream owner=%s error=%v retry_in=%s", ownerID, err, delay)
			if !send(ctx, out, Snapshot{Err: err}) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, 30*time.Second)
		}
	}()
	return out, nil
}

// watch follows the change stream and re-reads the owner's documents after
// each event. It returns when the stream fails or ctx is done.
func (m *MongoMirror) watch(ctx context.Context, ownerID string, out chan<- Snapshot) error {
	stream, err := m.collection.Watch(ctx, ownerPipeline(ownerID), options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	// Anything written between the initial read and the stream opening is
	// picked up here.
	if err := m.refresh(ctx, ownerID, out); err != nil {
		return err
	}
	for stream.Next(ctx) {
		if err := m.refresh(ctx, ownerID, out); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return errors.New("change stream closed")
}

// ownerPipeline matches writes to the owner's documents. Deletes carry no
// full document, so they are matched on the owner prefix of the _id.
func ownerPipeline(ownerID string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument.owner_id": ownerID},
			bson.M{
				"operationType":   "delete",
				"documentKey._id": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(ownerID) + "/"},
			},
		}}}},
	}
}

func (m *MongoMirror) refresh(ctx context.Context, ownerID string, out chan<- Snapshot) error {
	products, err := m.find(ctx, ownerID)
	if err != nil {
		return err
	}
	if !send(ctx, out, Snapshot{Products: products}) {
		return ctx.Err()
	}
	return nil
}

func (m *MongoMirror) find(ctx context.Context, ownerID string) ([]domain.Product, error) {
	cursor, err := m.collection.Find(ctx, bson.M{"owner_id": ownerID}, options.Find().SetSort(bson.D{{Key: "product_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer cursor.Close(ctx)

	var products []domain.Product
	for cursor.Next(ctx) {
		var doc productDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		p, err := doc.product()
		if err != nil {
			m.logger.Printf("remote: skip product owner=%s id=%s error=%v", ownerID, doc.ProductID, err)
			continue
		}
		products = append(products, p)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

func upsertModel(ownerID string, p domain.Product) (bson.M, bson.M, error) {
	price, err := primitive.ParseDecimal128(p.Price.String())
	if err != nil {
		return nil, nil, fmt.Errorf("encode price for %s: %w", p.ID, err)
	}
	set := bson.M{
		"owner_id":   ownerID,
		"product_id": p.ID,
		"name":       p.Name,
		"quantity":   p.Quantity,
		"price":      price,
		"updated_at": time.Now().UTC(),
	}
	update := bson.M{"$set": set, "$inc": bson.M{"version": int64(1)}}
	if p.ImageRef != nil {
		set["image_ref"] = *p.ImageRef
	} else {
		update["$unset"] = bson.M{"image_ref": ""}
	}
	return bson.M{"_id": docID(ownerID, p.ID)}, update, nil
}

func (d productDoc) product() (domain.Product, error) {
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        d.ProductID,
		Name:      d.Name,
		Quantity:  d.Quantity,
		Price:     price,
		ImageRef:  d.ImageRef,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func docID(ownerID, productID string) string {
	return ownerID + "/" + productID
}

func send(ctx context.Context, out chan<- Snapshot, s Snapshot) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
