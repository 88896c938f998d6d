package repo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Skryldev/student-registry/db"
	"github.com/Skryldev/student-registry/models"
)

// studentDocument is the BSON shape of a student. BSON has no unsigned
// 64-bit type, so counters and stamps are stored as int64.
type studentDocument struct {
	ID            string `bson:"_id"`
	Name          string `bson:"name"`
	DateBirth     string `bson:"dateBirth"`
	DateAdmission string `bson:"dateAdmission"`
	Course        string `bson:"course"`
	CourseType    string `bson:"courseType"`
	Location      string `bson:"location"`
	Parent        string `bson:"parent"`
	ParentNumber  int64  `bson:"parentNumber"`
	CreatedAt     int64  `bson:"createdAt"`
	UpdatedAt     *int64 `bson:"updatedAt,omitempty"`
}

func toDocument(s *models.Student) studentDocument {
	doc := studentDocument{
		ID:            s.ID,
		Name:          s.Name,
		DateBirth:     s.DateBirth,
		DateAdmission: s.DateAdmission,
		Course:        s.Course,
		CourseType:    s.CourseType,
		Location:      s.Location,
		Parent:        s.Parent,
		ParentNumber:  int64(s.ParentNumber),
		CreatedAt:     int64(s.CreatedAt),
	}
	if v, ok := s.UpdatedAt.Get(); ok {
		u := int64(v)
		doc.UpdatedAt = &u
	}
	return doc
}

func (d studentDocument) student() *models.Student {
	s := &models.Student{
		ID:            d.ID,
		Name:          d.Name,
		DateBirth:     d.DateBirth,
		DateAdmission: d.DateAdmission,
		Course:        d.Course,
		CourseType:    d.CourseType,
		Location:      d.Location,
		Parent:        d.Parent,
		ParentNumber:  uint64(d.ParentNumber),
		CreatedAt:     uint64(d.CreatedAt),
	}
	if d.UpdatedAt != nil {
		s.UpdatedAt = models.StampOf(uint64(*d.UpdatedAt))
	}
	return s
}

// mongoStore keeps one document per student, keyed by _id.
type mongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore returns a StudentStore on coll.
func NewMongoStore(coll *mongo.Collection) StudentStore {
	return &mongoStore{coll: coll}
}

func (s *mongoStore) Get(ctx context.Context, id string) (*models.Student, error) {
	var doc studentDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, s.mapErr(err)
	}
	return doc.student(), nil
}

func (s *mongoStore) Put(ctx context.Context, st *models.Student) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": st.ID}, toDocument(st), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("repo/mongo: put %s: %w", st.ID, s.mapErr(err))
	}
	return nil
}

func (s *mongoStore) Remove(ctx context.Context, id string) (*models.Student, error) {
	var doc studentDocument
	if err := s.coll.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, s.mapErr(err)
	}
	return doc.student(), nil
}

func (s *mongoStore) All(ctx context.Context) ([]*models.Student, error) {
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, s.mapErr(err)
	}
	var docs []studentDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, s.mapErr(err)
	}
	students := make([]*models.Student, 0, len(docs))
	for _, d := range docs {
		students = append(students, d.student())
	}
	return students, nil
}

func (s *mongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, s.mapErr(err)
	}
	return n, nil
}

func (s *mongoStore) mapErr(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return &db.DBError{Sentinel: db.ErrNotFound, Cause: err}
	case mongo.IsDuplicateKeyError(err):
		return &db.DBError{Sentinel: db.ErrDuplicateKey, Cause: err}
	case mongo.IsTimeout(err):
		return &db.DBError{Sentinel: db.ErrTimeout, Cause: err}
	case mongo.IsNetworkError(err):
		return &db.DBError{Sentinel: db.ErrConnectionFailed, Cause: err}
	}
	return err
}

var _ StudentStore = (*mongoStore)(nil)
