package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
)

func TestNormalizeIngredient(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "五花肉（500g）", want: "五花肉"},
		{raw: "香醋(可选)", want: "香醋"},
		{raw: "新鲜河虾或对虾", want: "新鲜河虾"},
		{raw: " 土豆 ", want: "土豆"},
	}

	for _, testCase := range tests {
		t.Run(testCase.raw, func(t *testing.T) {
			assert.Equal(t, testCase.want, NormalizeIngredient(testCase.raw))
		})
	}
}

func TestIngredientsOf_DropsSeasonings(t *testing.T) {
	d := domain.Dish{Ingredients: "五花肉（500g），葱、姜;土豆或红薯；香醋（可选）,, 冰糖"}

	var names []string
	for _, ing := range IngredientsOf(d) {
		names = append(names, ing.Name)
		assert.Equal(t, "适量", ing.Quantity)
		assert.Equal(t, "份", ing.Unit)
	}
	assert.Equal(t, []string{"五花肉", "土豆", "冰糖"}, names)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.Ingredient
		added []domain.Ingredient
		want  []domain.Ingredient
	}{
		{
			name:  "non-numeric quantities count as one",
			items: []domain.Ingredient{{Name: "葱", Quantity: "适量", Unit: "份"}},
			added: []domain.Ingredient{{Name: "葱", Quantity: "适量", Unit: "份"}},
			want:  []domain.Ingredient{{Name: "葱", Quantity: "2", Unit: "份"}},
		},
		{
			name:  "leading integer",
			items: []domain.Ingredient{{Name: "鸡蛋", Quantity: "3个", Unit: ""}},
			added: []domain.Ingredient{{Name: "鸡蛋", Quantity: "适量", Unit: "份"}},
			want:  []domain.Ingredient{{Name: "鸡蛋", Quantity: "4", Unit: "份"}},
		},
		{
			name:  "new names appended",
			items: []domain.Ingredient{{Name: "番茄", Quantity: "1", Unit: "个"}},
			added: []domain.Ingredient{{Name: "黄瓜", Quantity: "适量", Unit: "份"}},
			want: []domain.Ingredient{
				{Name: "番茄", Quantity: "1", Unit: "个"},
				{Name: "黄瓜", Quantity: "适量", Unit: "份"},
			},
		},
		{
			name:  "duplicates within one batch",
			added: []domain.Ingredient{{Name: "鸡蛋", Quantity: "适量", Unit: "份"}, {Name: "鸡蛋", Quantity: "适量", Unit: "份"}},
			want:  []domain.Ingredient{{Name: "鸡蛋", Quantity: "2", Unit: "份"}},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.want, Merge(testCase.items, testCase.added))
		})
	}
}

func TestAddSelectionToCart(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	_, err := env.p.SetSelection(ctx, []string{"m3", "v3"})
	require.NoError(t, err)

	items, err := env.p.AddSelectionToCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Ingredient{
		{Name: "番茄", Quantity: "适量", Unit: "份"},
		{Name: "鸡蛋", Quantity: "2", Unit: "份"},
		{Name: "紫菜", Quantity: "适量", Unit: "份"},
	}, items)
}

func TestCartEdits(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	_, err := env.p.AddIngredient(ctx, domain.Ingredient{Name: "牛肉", Quantity: "1", Unit: "斤"})
	require.NoError(t, err)
	_, err = env.p.AddIngredient(ctx, domain.Ingredient{Name: "土豆", Quantity: "2", Unit: "个"})
	require.NoError(t, err)

	items, err := env.p.UpdateIngredient(ctx, 1, domain.Ingredient{Name: "土豆", Quantity: "3", Unit: "个"})
	require.NoError(t, err)
	assert.Equal(t, "3", items[1].Quantity)

	_, err = env.p.RemoveIngredient(ctx, 5)
	assert.ErrorIs(t, err, ErrIndexRange)
	_, err = env.p.UpdateIngredient(ctx, -1, domain.Ingredient{})
	assert.ErrorIs(t, err, ErrIndexRange)

	items, err = env.p.RemoveIngredient(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.Ingredient{{Name: "土豆", Quantity: "3", Unit: "个"}}, items)

	assert.Equal(t, "购物清单\n\n土豆 - 3个", ExportText(items))
}

func TestSaveCart(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.p.SaveCart(ctx), ErrNotSignedIn)

	u := env.login(t)
	_, err := env.p.AddIngredient(ctx, domain.Ingredient{Name: "牛肉", Quantity: "1", Unit: "斤"})
	require.NoError(t, err)
	require.NoError(t, env.p.SaveCart(ctx))
	env.tasks.Wait()

	row, found, err := gateway.First[domain.CartRow](ctx, env.store, domain.TableCart, gateway.Where(gateway.Eq("user_id", u.ID)))
	require.NoError(t, err)
	require.True(t, found)
	var stored []domain.Ingredient
	require.NoError(t, json.Unmarshal([]byte(row.IngredientsJSON), &stored))
	assert.Equal(t, "牛肉", stored[0].Name)

	require.NoError(t, env.p.ClearCart(ctx))
	env.tasks.Wait()
	items, err := env.p.CartItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, found, err = gateway.First[domain.CartRow](ctx, env.store, domain.TableCart, gateway.Where(gateway.Eq("user_id", u.ID)))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExportText_Empty(t *testing.T) {
	assert.Equal(t, "购物清单\n\n", ExportText(nil))
}
