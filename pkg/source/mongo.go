package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/controlsphere/pkg/cache"
	"github.com/matzehuels/controlsphere/pkg/core/hierarchy"
	apperrors "github.com/matzehuels/controlsphere/pkg/errors"
)

// Defaults for [Mongo].
const (
	DefaultMongoDatabase   = "controlsphere"
	DefaultMongoCollection = "controls"
	DefaultMongoTimeout    = 30 * time.Second
)

// Mongo loads records from a MongoDB collection. Documents use the field
// names of the JSON format ("id", "domain", "category" or "pptdf",
// "weight", "mappings": [{"regime", "value"}]).
//
// When Domains names a second collection, its documents
// ({"name": ..., "description": ...}) supply domain descriptions.
type Mongo struct {
	URI        string
	Database   string
	Collection string
	Domains    string
	Timeout    time.Duration
}

// Name returns "mongo:<database>/<collection>".
func (m *Mongo) Name() string {
	return fmt.Sprintf("mongo:%s/%s", m.Database, m.Collection)
}

type mongoRecord struct {
	ID          string              `bson:"id"`
	Name        string              `bson:"name"`
	Domain      string              `bson:"domain"`
	Category    string              `bson:"category"`
	PPTDF       string              `bson:"pptdf"`
	Description string              `bson:"description"`
	Weight      bson.RawValue       `bson:"weight"`
	Mappings    []hierarchy.Mapping `bson:"mappings"`
}

func (r mongoRecord) record() hierarchy.Record {
	category := r.Category
	if category == "" {
		category = r.PPTDF
	}
	return hierarchy.Record{
		ControlID:   r.ID,
		ControlName: r.Name,
		Domain:      r.Domain,
		Category:    category,
		Description: r.Description,
		Weight:      rawWeight(r.Weight),
		Mappings:    r.Mappings,
	}
}

// rawWeight renders numeric and string weights as text. Other BSON types
// are treated as missing.
func rawWeight(v bson.RawValue) hierarchy.RawWeight {
	if s, ok := v.StringValueOK(); ok {
		return hierarchy.RawWeight(s)
	}
	if f, ok := v.DoubleOK(); ok {
		return hierarchy.RawWeight(strconv.FormatFloat(f, 'g', -1, 64))
	}
	if i, ok := v.Int32OK(); ok {
		return hierarchy.RawWeight(strconv.Itoa(int(i)))
	}
	if i, ok := v.Int64OK(); ok {
		return hierarchy.RawWeight(strconv.FormatInt(i, 10))
	}
	return ""
}

type domainDoc struct {
	Name        string `bson:"name"`
	Description string `bson:"description"`
}

// Load connects, reads every record in insertion order and disconnects.
// Connection failures are retried with backoff.
func (m *Mongo) Load(ctx context.Context) (*Dataset, error) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultMongoTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.URI).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidConfig, err, "connect to MongoDB")
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	err = cache.RetryWithBackoff(ctx, func() error {
		if err := client.Ping(ctx, nil); err != nil {
			return cache.Retryable(err)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeSourceUnavailable, err, "reach MongoDB")
	}

	db := client.Database(m.Database)
	cur, err := db.Collection(m.Collection).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeSourceUnavailable, err, "query %s", m.Name())
	}
	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidFormat, err, "decode %s", m.Name())
	}

	ds := &Dataset{Records: make([]hierarchy.Record, len(docs))}
	for i, d := range docs {
		ds.Records[i] = d.record()
	}
	if m.Domains != "" {
		cur, err := db.Collection(m.Domains).Find(ctx, bson.D{})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeSourceUnavailable, err, "query domains")
		}
		var docs []domainDoc
		if err := cur.All(ctx, &docs); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeInvalidFormat, err, "decode domains")
		}
		ds.DomainDescriptions = make(map[string]string, len(docs))
		for _, d := range docs {
			ds.DomainDescriptions[d.Name] = d.Description
		}
	}
	return ds, nil
}
