// Package executor проводит один item через шаги регистрации.
//
// # Цикл
//
// Process(ctx, itemID) повторяет, пока item не остановится:
//
//  1. Загрузить item. Терминальный или ещё не созревший RETRYING — выход
//     (повторная доставка той же работы).
//  2. Загрузить job. CANCELLED — выход без изменения item и без повторов.
//  3. Определить шаг по фазе item (registration.StepFor).
//  4. Для внешнего шага получить бюджет rate limiter; без бюджета вызов
//     не делается.
//  5. Выполнить шаг и классифицировать ошибку.
//  6. Применить registration.Transition.
//  7. Сохранить item одной записью с проверкой версии.
//  8. RETRYING — запланировать повтор через Scheduler и выйти.
//     Терминальное состояние — опубликовать исход для агрегатора и выйти.
//
// Конфликт версии означает, что item уже продвинул другой обработчик:
// executor выходит, ничего не перезаписывая.
package executor
