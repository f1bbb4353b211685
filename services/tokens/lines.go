package tokens

import "messmate/services/store"

// Aggregate groups orders by meal name in first-seen order. Each line keeps
// the unit price of its first order; total sums every order's price.
func Aggregate(orders []store.Order) (lines []store.LineItem, total float64) {
	index := make(map[string]int, len(orders))
	for _, o := range orders {
		total += o.Price
		if i, ok := index[o.MealName]; ok {
			lines[i].Quantity++
			continue
		}
		index[o.MealName] = len(lines)
		lines = append(lines, store.LineItem{Name: o.MealName, Quantity: 1, Price: o.Price})
	}
	return lines, total
}
