// Package awstest provides in-memory stand-ins for the AWS clients used in unit tests.
package awstest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Index describes a global secondary index for Query.
type Index struct {
	PartitionKey string
	SortKey      string
}

type table struct {
	key     string
	items   map[string]map[string]types.AttributeValue
	indexes map[string]Index
}

// Dynamo is a small in-memory DynamoDB. It understands the expression forms
// this repository emits: attribute_exists / attribute_not_exists and binary
// comparisons joined by a single kind of AND / OR, SET / ADD / REMOVE update
// clauses, and if_not_exists in SET.
type Dynamo struct {
	mu     sync.Mutex
	tables map[string]*table
	fail   map[string][]error
	Calls  map[string]int
}

func NewDynamo() *Dynamo {
	return &Dynamo{
		tables: map[string]*table{},
		fail:   map[string][]error{},
		Calls:  map[string]int{},
	}
}

// CreateTable registers a table with a single string or number hash key.
func (d *Dynamo) CreateTable(name, keyAttr string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{key: keyAttr, items: map[string]map[string]types.AttributeValue{}, indexes: map[string]Index{}}
	return d
}

// AddIndex registers a secondary index on an existing table.
func (d *Dynamo) AddIndex(tableName, indexName string, idx Index) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[tableName].indexes[indexName] = idx
	return d
}

// FailNext queues err to be returned by the next call to op (e.g. "PutItem").
func (d *Dynamo) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[op] = append(d.fail[op], err)
}

// Item returns a copy of the stored item, or nil.
func (d *Dynamo) Item(tableName, key string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tables[tableName]
	if t == nil || t.items[key] == nil {
		return nil
	}
	return copyItem(t.items[key])
}

// Len returns the number of items in a table.
func (d *Dynamo) Len(tableName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[tableName].items)
}

func (d *Dynamo) enter(op string) error {
	d.Calls[op]++
	if q := d.fail[op]; len(q) > 0 {
		d.fail[op] = q[1:]
		return q[0]
	}
	return nil
}

func (d *Dynamo) table(name *string) (*table, error) {
	if name == nil {
		return nil, fmt.Errorf("awstest: missing table name")
	}
	t := d.tables[*name]
	if t == nil {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table " + *name)}
	}
	return t, nil
}

func (d *Dynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("PutItem"); err != nil {
		return nil, err
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyString(params.Item[t.key])
	if err != nil {
		return nil, err
	}
	existing := t.items[k]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, orEmpty(existing), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional request failed")}
		}
	}
	t.items[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("GetItem"); err != nil {
		return nil, err
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyString(params.Key[t.key])
	if err != nil {
		return nil, err
	}
	item, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyString(params.Key[t.key])
	if err != nil {
		return nil, err
	}
	existing := t.items[k]
	if params.ConditionExpression != nil {
		ok, err := evalCondition(*params.ConditionExpression, orEmpty(existing), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional request failed")}
		}
	}

	item := copyItem(orEmpty(existing))
	for name, v := range params.Key {
		item[name] = v
	}
	if params.UpdateExpression != nil {
		if err := applyUpdate(*params.UpdateExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	t.items[k] = item

	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew || params.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = copyItem(item)
	}
	return out, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("TransactWriteItems"); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("awstest: TransactWriteItems not supported")
}

func (d *Dynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Scan"); err != nil {
		return nil, err
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}

	keys := sortedKeys(t.items)
	start := 0
	if params.ExclusiveStartKey != nil {
		sk, err := keyString(params.ExclusiveStartKey[t.key])
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, sk)
		if start < len(keys) && keys[start] == sk {
			start++
		}
	}

	out := &dyn.ScanOutput{}
	evaluated := 0
	for i := start; i < len(keys); i++ {
		if params.Limit != nil && evaluated == int(*params.Limit) {
			out.LastEvaluatedKey = map[string]types.AttributeValue{t.key: t.items[keys[i-1]][t.key]}
			break
		}
		evaluated++
		item := t.items[keys[i]]
		if params.FilterExpression != nil {
			ok, err := evalCondition(*params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out.Items = append(out.Items, copyItem(item))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(evaluated)
	return out, nil
}

func (d *Dynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Query"); err != nil {
		return nil, err
	}
	t, err := d.table(params.TableName)
	if err != nil {
		return nil, err
	}
	sortKey := ""
	if params.IndexName != nil {
		idx, ok := t.indexes[*params.IndexName]
		if !ok {
			return nil, fmt.Errorf("awstest: unknown index %s", *params.IndexName)
		}
		sortKey = idx.SortKey
	}
	if params.KeyConditionExpression == nil {
		return nil, fmt.Errorf("awstest: query requires a key condition")
	}

	var matched []map[string]types.AttributeValue
	for _, k := range sortedKeys(t.items) {
		item := t.items[k]
		ok, err := evalCondition(*params.KeyConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, item)
		}
	}
	if sortKey != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return compareAttr(matched[i][sortKey], matched[j][sortKey]) < 0
		})
	}
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	start := 0
	if params.ExclusiveStartKey != nil {
		sk, err := keyString(params.ExclusiveStartKey[t.key])
		if err != nil {
			return nil, err
		}
		for i, item := range matched {
			if ks, _ := keyString(item[t.key]); ks == sk {
				start = i + 1
				break
			}
		}
	}

	out := &dyn.QueryOutput{}
	evaluated := 0
	for i := start; i < len(matched); i++ {
		if params.Limit != nil && evaluated == int(*params.Limit) {
			last := matched[i-1]
			out.LastEvaluatedKey = map[string]types.AttributeValue{t.key: last[t.key]}
			break
		}
		evaluated++
		item := matched[i]
		if params.FilterExpression != nil {
			ok, err := evalCondition(*params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out.Items = append(out.Items, copyItem(item))
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

var clauseRe = regexp.MustCompile(`\b(SET|ADD|REMOVE)\b`)

func applyUpdate(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	locs := clauseRe.FindAllStringIndex(expr, -1)
	for i, loc := range locs {
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		keyword := expr[loc[0]:loc[1]]
		body := strings.TrimSpace(expr[loc[1]:end])
		for _, part := range splitTopLevel(body) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			switch keyword {
			case "SET":
				lhs, rhs, ok := strings.Cut(part, "=")
				if !ok {
					return fmt.Errorf("awstest: bad SET clause %q", part)
				}
				name := resolveName(strings.TrimSpace(lhs), names)
				v, err := evalValue(strings.TrimSpace(rhs), item, names, values)
				if err != nil {
					return err
				}
				item[name] = v
			case "ADD":
				fields := strings.Fields(part)
				if len(fields) != 2 {
					return fmt.Errorf("awstest: bad ADD clause %q", part)
				}
				name := resolveName(fields[0], names)
				inc, ok := values[fields[1]].(*types.AttributeValueMemberN)
				if !ok {
					return fmt.Errorf("awstest: ADD needs a number for %s", fields[1])
				}
				cur := 0.0
				if n, ok := item[name].(*types.AttributeValueMemberN); ok {
					cur, _ = strconv.ParseFloat(n.Value, 64)
				}
				add, _ := strconv.ParseFloat(inc.Value, 64)
				item[name] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(cur+add, 'f', -1, 64)}
			case "REMOVE":
				delete(item, resolveName(part, names))
			}
		}
	}
	return nil
}

// evalValue handles ":v", "if_not_exists(name, :v)" and "x + :v".
func evalValue(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	if lhs, rhs, ok := strings.Cut(expr, " + "); ok {
		a, err := evalValue(strings.TrimSpace(lhs), item, names, values)
		if err != nil {
			return nil, err
		}
		b, err := evalValue(strings.TrimSpace(rhs), item, names, values)
		if err != nil {
			return nil, err
		}
		an, aok := a.(*types.AttributeValueMemberN)
		bn, bok := b.(*types.AttributeValueMemberN)
		if !aok || !bok {
			return nil, fmt.Errorf("awstest: + needs numbers in %q", expr)
		}
		x, _ := strconv.ParseFloat(an.Value, 64)
		y, _ := strconv.ParseFloat(bn.Value, 64)
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+y, 'f', -1, 64)}, nil
	}
	if strings.HasPrefix(expr, "if_not_exists(") && strings.HasSuffix(expr, ")") {
		inner := strings.TrimSuffix(strings.TrimPrefix(expr, "if_not_exists("), ")")
		name, def, ok := strings.Cut(inner, ",")
		if !ok {
			return nil, fmt.Errorf("awstest: bad if_not_exists %q", expr)
		}
		if v, ok := item[resolveName(strings.TrimSpace(name), names)]; ok {
			return v, nil
		}
		return evalValue(strings.TrimSpace(def), item, names, values)
	}
	if strings.HasPrefix(expr, ":") {
		v, ok := values[expr]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %s", expr)
		}
		return v, nil
	}
	v, ok := item[resolveName(expr, names)]
	if !ok {
		return nil, fmt.Errorf("awstest: attribute %s not set", expr)
	}
	return v, nil
}

func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if parts := strings.Split(expr, " OR "); len(parts) > 1 {
		for _, p := range parts {
			ok, err := evalCondition(p, item, names, values)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	if parts := strings.Split(expr, " AND "); len(parts) > 1 {
		for _, p := range parts {
			ok, err := evalCondition(p, item, names, values)
			if err != nil || !ok {
				return ok, err
			}
		}
		return true, nil
	}
	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}

	if strings.HasPrefix(expr, "attribute_exists(") {
		name := strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_exists("), ")")
		_, ok := item[resolveName(name, names)]
		return ok, nil
	}
	if strings.HasPrefix(expr, "attribute_not_exists(") {
		name := strings.TrimSuffix(strings.TrimPrefix(expr, "attribute_not_exists("), ")")
		_, ok := item[resolveName(name, names)]
		return !ok, nil
	}

	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return false, fmt.Errorf("awstest: unsupported condition %q", expr)
	}
	left, lok := operand(fields[0], item, names, values)
	right, rok := operand(fields[2], item, names, values)
	if !lok || !rok {
		// comparisons against missing attributes are false, except <>
		return fields[1] == "<>" && lok != rok, nil
	}
	c := compareAttr(left, right)
	switch fields[1] {
	case "=":
		return c == 0, nil
	case "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	default:
		return false, fmt.Errorf("awstest: unsupported operator %q", fields[1])
	}
}

func operand(tok string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (types.AttributeValue, bool) {
	if strings.HasPrefix(tok, ":") {
		v, ok := values[tok]
		return v, ok
	}
	v, ok := item[resolveName(tok, names)]
	return v, ok
}

func compareAttr(a, b types.AttributeValue) int {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		if bv, ok := b.(*types.AttributeValueMemberN); ok {
			x, _ := strconv.ParseFloat(av.Value, 64)
			y, _ := strconv.ParseFloat(bv.Value, 64)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case *types.AttributeValueMemberS:
		if bv, ok := b.(*types.AttributeValueMemberS); ok {
			return strings.Compare(av.Value, bv.Value)
		}
	case *types.AttributeValueMemberBOOL:
		if bv, ok := b.(*types.AttributeValueMemberBOOL); ok && av.Value == bv.Value {
			return 0
		}
	}
	return -2
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func keyString(v types.AttributeValue) (string, error) {
	switch k := v.(type) {
	case *types.AttributeValueMemberS:
		return k.Value, nil
	case *types.AttributeValueMemberN:
		return k.Value, nil
	default:
		return "", fmt.Errorf("awstest: missing or unsupported key attribute")
	}
}

func sortedKeys(items map[string]map[string]types.AttributeValue) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func orEmpty(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return map[string]types.AttributeValue{}
	}
	return item
}

func strPtr(s string) *string { return &s }
