// Package dynamostore реализует kv.Store поверх Amazon DynamoDB.
//
// Логические таблицы сервиса сопоставляются с физическими таблицами через
// конфигурацию. Ключ партиции у всех таблиц один и тот же (по умолчанию "id"),
// атрибут ttl используется встроенным механизмом TTL DynamoDB.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
)

// API - подмножество клиента DynamoDB, которое использует Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store - kv.Store на DynamoDB.
type Store struct {
	api     API
	keyAttr string
	tables  map[string]string
}

// New создает Store поверх готового клиента.
func New(api API, keyAttr string, tables map[string]string) *Store {
	if keyAttr == "" {
		keyAttr = "id"
	}
	return &Store{api: api, keyAttr: keyAttr, tables: tables}
}

// Connect загружает AWS-конфигурацию по умолчанию и создает клиента DynamoDB.
func Connect(ctx context.Context, cfg config.DynamoDB, tables map[string]string) (*Store, error) {
	const op = "dynamostore.Connect"
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, cfg.KeyAttribute, tables), nil
}

// Ping проверяет, что логические таблицы tables существуют и доступны.
// Таблица в статусе UPDATING обслуживает запросы и считается доступной.
func (s *Store) Ping(ctx context.Context, tables ...string) error {
	const op = "dynamostore.Ping"
	for _, table := range tables {
		name := s.tableName(table)
		out, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err != nil {
			return fmt.Errorf("%s: %s: %w", op, name, err)
		}
		if out.Table == nil {
			return fmt.Errorf("%s: %s: empty table description", op, name)
		}
		switch out.Table.TableStatus {
		case types.TableStatusActive, types.TableStatusUpdating:
		default:
			return fmt.Errorf("%s: %s: table status %s", op, name, out.Table.TableStatus)
		}
	}
	return nil
}

func (s *Store) tableName(table string) string {
	if name, ok := s.tables[table]; ok && name != "" {
		return name
	}
	return table
}

func (s *Store) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{s.keyAttr: &types.AttributeValueMemberS{Value: key}}
}

// Get читает запись строго согласованным чтением.
func (s *Store) Get(ctx context.Context, table, key string) (kv.Item, error) {
	const op = "dynamostore.Get"
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName(table)),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(out.Item) == 0 {
		return nil, kv.ErrNotFound
	}
	item, err := fromAttributes(out.Item)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

// Put безусловно перезаписывает запись.
func (s *Store) Put(ctx context.Context, table, key string, item kv.Item) error {
	const op = "dynamostore.Put"
	attrs, err := s.toItemAttributes(key, item)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName(table)),
		Item:      attrs,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PutIfAbsent создает запись с условием attribute_not_exists на ключ.
func (s *Store) PutIfAbsent(ctx context.Context, table, key string, item kv.Item) error {
	const op = "dynamostore.PutIfAbsent"
	attrs, err := s.toItemAttributes(key, item)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName(table)),
		Item:                     attrs,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": s.keyAttr},
	})
	if err != nil {
		if isConditionFailed(err) {
			return kv.ErrConditionFailed
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Update транслирует kv.Update в UpdateExpression с ConditionExpression.
func (s *Store) Update(ctx context.Context, table, key string, upd kv.Update) (kv.Item, error) {
	const op = "dynamostore.Update"
	expr, err := buildUpdate(upd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName(table)),
		Key:                      s.key(key),
		UpdateExpression:         aws.String(expr.update),
		ExpressionAttributeNames: expr.names,
		ReturnValues:             types.ReturnValueAllNew,
	}
	if len(expr.values) > 0 {
		input.ExpressionAttributeValues = expr.values
	}
	if expr.condition != "" {
		input.ConditionExpression = aws.String(expr.condition)
	}

	out, err := s.api.UpdateItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return nil, kv.ErrConditionFailed
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	item, err := fromAttributes(out.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

type expression struct {
	update    string
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
}

func buildUpdate(upd kv.Update) (expression, error) {
	e := expression{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
	n := 0
	name := func(field string) string {
		n++
		ph := "#f" + strconv.Itoa(n)
		e.names[ph] = field
		return ph
	}
	value := func(v any) (string, error) {
		av, err := toAttribute(v)
		if err != nil {
			return "", err
		}
		ph := ":v" + strconv.Itoa(len(e.values)+1)
		e.values[ph] = av
		return ph, nil
	}

	var clauses []string
	if len(upd.Set) > 0 {
		parts := make([]string, 0, len(upd.Set))
		for _, f := range sortedKeys(upd.Set) {
			v, err := value(upd.Set[f])
			if err != nil {
				return e, fmt.Errorf("set %s: %w", f, err)
			}
			parts = append(parts, name(f)+" = "+v)
		}
		clauses = append(clauses, "SET "+strings.Join(parts, ", "))
	}
	if len(upd.Add) > 0 {
		parts := make([]string, 0, len(upd.Add))
		for _, f := range sortedKeys(upd.Add) {
			v, err := value(upd.Add[f])
			if err != nil {
				return e, fmt.Errorf("add %s: %w", f, err)
			}
			parts = append(parts, name(f)+" "+v)
		}
		clauses = append(clauses, "ADD "+strings.Join(parts, ", "))
	}
	if len(upd.Remove) > 0 {
		parts := make([]string, 0, len(upd.Remove))
		for _, f := range upd.Remove {
			parts = append(parts, name(f))
		}
		clauses = append(clauses, "REMOVE "+strings.Join(parts, ", "))
	}
	if len(clauses) == 0 {
		return e, errors.New("empty update")
	}
	e.update = strings.Join(clauses, " ")

	conds := make([]string, 0, len(upd.Conditions))
	for _, c := range upd.Conditions {
		f := name(c.Field)
		switch c.Op {
		case kv.OpExists:
			conds = append(conds, "attribute_exists("+f+")")
		case kv.OpNotExists:
			conds = append(conds, "attribute_not_exists("+f+")")
		case kv.OpEq, kv.OpNe, kv.OpLt, kv.OpGt:
			v, err := value(c.Value)
			if err != nil {
				return e, fmt.Errorf("condition on %s: %w", c.Field, err)
			}
			switch c.Op {
			case kv.OpEq:
				conds = append(conds, f+" = "+v)
			case kv.OpNe:
				conds = append(conds, "(attribute_not_exists("+f+") OR "+f+" <> "+v+")")
			case kv.OpLt:
				conds = append(conds, f+" < "+v)
			case kv.OpGt:
				conds = append(conds, f+" > "+v)
			}
		default:
			return e, fmt.Errorf("unknown condition op %q", c.Op)
		}
	}
	e.condition = strings.Join(conds, " AND ")
	return e, nil
}

func (s *Store) toItemAttributes(key string, item kv.Item) (map[string]types.AttributeValue, error) {
	attrs := make(map[string]types.AttributeValue, len(item)+1)
	for f, v := range item {
		av, err := toAttribute(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
		attrs[f] = av
	}
	attrs[s.keyAttr] = &types.AttributeValueMemberS{Value: key}
	return attrs, nil
}

func toAttribute(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: x}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x, 10)}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(x)}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromAttributes(attrs map[string]types.AttributeValue) (kv.Item, error) {
	item := make(kv.Item, len(attrs))
	for f, av := range attrs {
		switch x := av.(type) {
		case *types.AttributeValueMemberS:
			item[f] = x.Value
		case *types.AttributeValueMemberBOOL:
			item[f] = x.Value
		case *types.AttributeValueMemberN:
			n, err := strconv.ParseInt(x.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f, err)
			}
			item[f] = n
		case *types.AttributeValueMemberNULL:
		default:
			return nil, fmt.Errorf("field %s: unsupported attribute type %T", f, av)
		}
	}
	return item, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
