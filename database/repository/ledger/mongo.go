package ledgerRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guidebook/models"
	"guidebook/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 5 * time.Second

// paymentDoc adds the liveBookingId marker that backs the one-live-payment
// unique index. It is set while the payment is pending or completed.
type paymentDoc struct {
	models.Payment `bson:",inline"`
	LiveBookingID  string `bson:"liveBookingId,omitempty"`
}

var _ Ledger = (*MongoLedger)(nil)

// MongoLedger implements Ledger using MongoDB.
type MongoLedger struct {
	experienceColl *mongo.Collection
	bookingColl    *mongo.Collection
	paymentColl    *mongo.Collection
	guideDayColl   *mongo.Collection
}

// NewMongoLedger constructs a new instance of MongoLedger and ensures its indexes.
func NewMongoLedger(db *mongo.Database) (*MongoLedger, error) {
	repo := &MongoLedger{
		experienceColl: db.Collection("experiences"),
		bookingColl:    db.Collection("bookings"),
		paymentColl:    db.Collection("payments"),
		guideDayColl:   db.Collection("guide_days"),
	}
	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *MongoLedger) Ping(ctx context.Context) error {
	return r.bookingColl.Database().Client().Ping(ctx, nil)
}

func (r *MongoLedger) GetExperience(ctx context.Context, id string) (*models.Experience, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()

	var exp models.Experience
	if err := r.experienceColl.FindOne(ctx, bson.M{"id": id}).Decode(&exp); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NotFound("experience %s not found", id)
		}
		return nil, fmt.Errorf("error fetching experience %s: %w", id, err)
	}
	return &exp, nil
}

func (r *MongoLedger) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()
	return r.findBooking(ctx, id)
}

func (r *MongoLedger) findBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := r.bookingColl.FindOne(ctx, bson.M{"id": id}).Decode(&b); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NotFound("booking %s not found", id)
		}
		return nil, fmt.Errorf("error fetching booking %s: %w", id, err)
	}
	return &b, nil
}

func liveBookingFilter(guideID, date string) bson.M {
	return bson.M{
		"guideId":     guideID,
		"bookingDate": date,
		"status":      bson.M{"$in": liveStatusStrings()},
	}
}

func (r *MongoLedger) FindLiveBookings(ctx context.Context, guideID, date string) ([]models.Booking, error) {
	return r.findBookings(ctx, liveBookingFilter(guideID, date))
}

func (r *MongoLedger) CountLiveBookings(ctx context.Context, guideID, date string) (int, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()

	n, err := r.bookingColl.CountDocuments(ctx, liveBookingFilter(guideID, date))
	if err != nil {
		return 0, fmt.Errorf("error counting live bookings: %w", err)
	}
	return int(n), nil
}

func (r *MongoLedger) ListBookingsByTourist(ctx context.Context, touristID string) ([]models.Booking, error) {
	return r.findBookings(ctx, bson.M{"touristId": touristID})
}

func (r *MongoLedger) ListBookingsByGuide(ctx context.Context, guideID string) ([]models.Booking, error) {
	return r.findBookings(ctx, bson.M{"guideId": guideID})
}

func (r *MongoLedger) ListDueForCompletion(ctx context.Context, date string) ([]models.Booking, error) {
	return r.findBookings(ctx, bson.M{
		"status":      string(models.BookingConfirmed),
		"bookingDate": bson.M{"$lte": date},
	})
}

func (r *MongoLedger) findBookings(ctx context.Context, filter bson.M) ([]models.Booking, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: -1}})
	cursor, err := r.bookingColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []models.Booking
	if err := cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("error decoding bookings: %w", err)
	}
	return bookings, nil
}

// withTransaction runs fn in a session transaction. The driver retries fn on
// transient errors such as write conflicts between concurrent units.
func (r *MongoLedger) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	client := r.bookingColl.Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (r *MongoLedger) CreateBookingWithPayment(ctx context.Context, b *models.Booking, p *models.Payment) error {
	ctx, cancel := newContext(ctx, 10*time.Second)
	defer cancel()

	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		// Touching the guide-day document makes concurrent creates for the
		// same guide and date conflict, so one of them retries and sees the other.
		dayFilter := bson.M{"guideId": b.GuideID, "date": b.BookingDate}
		dayUpdate := bson.M{"$inc": bson.M{"holds": 1}, "$set": bson.M{"updatedAt": b.CreatedAt}}
		if _, err := r.guideDayColl.UpdateOne(sc, dayFilter, dayUpdate, options.Update().SetUpsert(true)); err != nil {
			return fmt.Errorf("lock guide day failed: %w", err)
		}

		n, err := r.bookingColl.CountDocuments(sc, liveBookingFilter(b.GuideID, b.BookingDate))
		if err != nil {
			return fmt.Errorf("count live bookings failed: %w", err)
		}
		if n > 0 {
			return utils.Conflict("guide %s is already booked on %s", b.GuideID, b.BookingDate)
		}

		if _, err := r.bookingColl.InsertOne(sc, b); err != nil {
			return mapWriteError(err, "insert booking failed")
		}
		if p != nil {
			if _, err := r.paymentColl.InsertOne(sc, newPaymentDoc(p)); err != nil {
				return mapWriteError(err, "insert payment failed")
			}
		}
		return nil
	})
	if err != nil {
		if utils.KindOf(err) != "" {
			return err
		}
		return fmt.Errorf("booking transaction failed: %w", err)
	}
	return nil
}

func bookingTransitionUpdate(t Transition) bson.M {
	set := bson.M{"status": string(t.To), "updatedAt": t.At}
	switch t.To {
	case models.BookingCancelled:
		set["cancelledAt"] = t.At
		if t.Reason != "" {
			set["cancelReason"] = t.Reason
		}
	case models.BookingCompleted:
		set["completedAt"] = t.At
	}
	return bson.M{"$set": set}
}

func (r *MongoLedger) UpdateBookingStatus(ctx context.Context, id string, t Transition) (bool, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()

	filter := bson.M{"id": id, "status": string(t.From)}
	res, err := r.bookingColl.UpdateOne(ctx, filter, bookingTransitionUpdate(t))
	if err != nil {
		return false, fmt.Errorf("failed to update booking %s status: %w", id, err)
	}
	if res.MatchedCount == 0 {
		// Distinguish a lost race from a missing booking.
		if _, err := r.findBooking(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func newPaymentDoc(p *models.Payment) paymentDoc {
	doc := paymentDoc{Payment: *p}
	if p.Status.IsLive() {
		doc.LiveBookingID = p.BookingID
	}
	return doc
}

func (r *MongoLedger) findPayment(ctx context.Context, filter bson.M, what string) (*models.Payment, error) {
	var doc paymentDoc
	if err := r.paymentColl.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NotFound("%s not found", what)
		}
		return nil, fmt.Errorf("error fetching %s: %w", what, err)
	}
	return &doc.Payment, nil
}

func (r *MongoLedger) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()
	return r.findPayment(ctx, bson.M{"id": id}, "payment "+id)
}

func (r *MongoLedger) GetPaymentByReference(ctx context.Context, gateway models.Gateway, ref string) (*models.Payment, error) {
	if ref == "" {
		return nil, utils.NotFound("empty %s reference", gateway)
	}
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()
	return r.findPayment(ctx, bson.M{"gateway": string(gateway), "externalRef": ref},
		fmt.Sprintf("%s payment with reference %s", gateway, ref))
}

func (r *MongoLedger) GetLivePayment(ctx context.Context, bookingID string) (*models.Payment, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()
	return r.findPayment(ctx, bson.M{"liveBookingId": bookingID}, "live payment for booking "+bookingID)
}

func (r *MongoLedger) CreatePayment(ctx context.Context, p *models.Payment) error {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()

	if _, err := r.paymentColl.InsertOne(ctx, newPaymentDoc(p)); err != nil {
		return mapWriteError(err, "insert payment failed")
	}
	return nil
}

func metadataSet(set bson.M, metadata map[string]string) {
	for k, v := range metadata {
		set["metadata."+k] = v
	}
}

func (r *MongoLedger) AttachPaymentReference(ctx context.Context, id, ref string, metadata map[string]string, at time.Time) (bool, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()

	filter := bson.M{
		"id":     id,
		"status": string(models.PaymentPending),
		"$or": bson.A{
			bson.M{"externalRef": bson.M{"$exists": false}},
			bson.M{"externalRef": ""},
		},
	}
	set := bson.M{"externalRef": ref, "updatedAt": at}
	metadataSet(set, metadata)

	res, err := r.paymentColl.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, mapWriteError(err, "attach payment reference failed")
	}
	return res.MatchedCount > 0, nil
}

func failPaymentUpdate(reason string, metadata map[string]string, at time.Time) bson.M {
	set := bson.M{
		"status":        string(models.PaymentFailed),
		"failureReason": reason,
		"updatedAt":     at,
		"settledAt":     at,
	}
	metadataSet(set, metadata)
	return bson.M{"$set": set, "$unset": bson.M{"liveBookingId": ""}}
}

func (r *MongoLedger) FailPayment(ctx context.Context, id, reason string, metadata map[string]string, at time.Time) (bool, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()

	filter := bson.M{"id": id, "status": string(models.PaymentPending)}
	res, err := r.paymentColl.UpdateOne(ctx, filter, failPaymentUpdate(reason, metadata, at))
	if err != nil {
		return false, fmt.Errorf("failed to fail payment %s: %w", id, err)
	}
	return res.MatchedCount > 0, nil
}

func (r *MongoLedger) FlagRefundRequired(ctx context.Context, id string, metadata map[string]string, at time.Time) (bool, error) {
	ctx, cancel := newContext(ctx, mongoTimeout)
	defer cancel()

	filter := bson.M{"id": id, "status": string(models.PaymentFailed)}
	filter["metadata."+models.MetaRefundRequired] = bson.M{"$ne": "true"}
	set := bson.M{"updatedAt": at}
	metadataSet(set, metadata)
	set["metadata."+models.MetaRefundRequired] = "true"
	res, err := r.paymentColl.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to flag payment %s: %w", id, err)
	}
	return res.MatchedCount > 0, nil
}

func (r *MongoLedger) SettlePayment(ctx context.Context, s Settlement) (SettlementResult, error) {
	ctx, cancel := newContext(ctx, 10*time.Second)
	defer cancel()

	var res SettlementResult
	err := r.withTransaction(ctx, func(sc mongo.SessionContext) error {
		res = SettlementResult{}
		filter := bson.M{"id": s.PaymentID, "status": string(models.PaymentPending)}

		var update bson.M
		if s.Status == models.PaymentFailed {
			update = failPaymentUpdate(s.FailureReason, s.Metadata, s.At)
		} else {
			set := bson.M{"status": string(s.Status), "updatedAt": s.At, "settledAt": s.At}
			metadataSet(set, s.Metadata)
			update = bson.M{"$set": set}
		}
		upd, err := r.paymentColl.UpdateOne(sc, filter, update)
		if err != nil {
			return fmt.Errorf("settle payment failed: %w", err)
		}
		if upd.MatchedCount == 0 {
			return nil
		}
		res.PaymentApplied = true

		payment, err := r.findPayment(sc, bson.M{"id": s.PaymentID}, "payment "+s.PaymentID)
		if err != nil {
			return err
		}

		if s.Status == models.PaymentCompleted {
			t := Transition{From: models.BookingPending, To: models.BookingConfirmed, At: s.At}
			bres, err := r.bookingColl.UpdateOne(sc, bson.M{"id": payment.BookingID, "status": string(t.From)}, bookingTransitionUpdate(t))
			if err != nil {
				return fmt.Errorf("confirm booking failed: %w", err)
			}
			res.BookingConfirmed = bres.MatchedCount > 0
		}
		res.Payment = payment

		booking, err := r.findBooking(sc, payment.BookingID)
		if err != nil && !utils.IsKind(err, utils.KindNotFound) {
			return err
		}
		res.Booking = booking

		// Money taken for a booking that was cancelled meanwhile has to go back.
		if s.Status == models.PaymentCompleted && !res.BookingConfirmed && booking != nil && booking.Status == models.BookingCancelled {
			flag := bson.M{"$set": bson.M{"metadata." + models.MetaRefundRequired: "true"}}
			if _, err := r.paymentColl.UpdateOne(sc, bson.M{"id": s.PaymentID}, flag); err != nil {
				return fmt.Errorf("flag refund failed: %w", err)
			}
			payment.Metadata = mergeMetadata(payment.Metadata, map[string]string{models.MetaRefundRequired: "true"})
		}
		return nil
	})
	if err != nil {
		return SettlementResult{}, fmt.Errorf("settlement transaction failed: %w", err)
	}
	if !res.PaymentApplied {
		current, err := r.GetPayment(ctx, s.PaymentID)
		if err != nil {
			return res, err
		}
		res.Payment = current
	}
	return res, nil
}

func mapWriteError(err error, msg string) error {
	if mongo.IsDuplicateKeyError(err) {
		return utils.Conflict("%s: duplicate key", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
